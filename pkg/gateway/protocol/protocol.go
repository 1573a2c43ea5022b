// Package protocol defines the websocket wire format between a browser UI
// and the memoir session: JSON envelopes with a type discriminator in both
// directions.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/literary-echo/echo/pkg/live"
)

// ProtocolVersion1 is the only supported protocol version.
const ProtocolVersion1 = "1"

// DecodeError describes a rejected client frame.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// ClientHello is the mandatory first frame: it selects the author persona
// and the conversation variant for the session bound to this connection.
type ClientHello struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AuthorID        string `json:"author_id"`
	Freeform        bool   `json:"freeform,omitempty"`
}

// ClientControl is a session control command.
type ClientControl struct {
	Type string `json:"type"`
	Op   string `json:"op"` // "start", "stop", "weave"
}

// DecodeClientMessage parses and validates one inbound frame.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if strings.TrimSpace(msg.ProtocolVersion) == "" {
			return nil, badRequest("hello.protocol_version is required", "protocol_version")
		}
		if strings.TrimSpace(msg.ProtocolVersion) != ProtocolVersion1 {
			return nil, unsupported("unsupported protocol_version", "protocol_version")
		}
		if strings.TrimSpace(msg.AuthorID) == "" {
			return nil, badRequest("hello.author_id is required", "author_id")
		}
		return msg, nil
	case "control":
		var msg ClientControl
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid control", "")
		}
		op := strings.TrimSpace(msg.Op)
		switch op {
		case "start", "stop", "weave":
		case "":
			return nil, badRequest("control.op is required", "op")
		default:
			return nil, unsupported("unsupported control operation", "op")
		}
		msg.Op = op
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// ServerEnvelope wraps one server frame: the discriminator plus the typed
// payload.
type ServerEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ServerReady acknowledges an accepted hello.
type ServerReady struct {
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name"`
	Freeform   bool   `json:"freeform,omitempty"`
}

// ServerError reports a command or session failure to the client. Fatal
// errors are followed by connection close.
type ServerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal,omitempty"`
}

// EncodeServerEvent wraps one session event in an envelope keyed by the
// event's type string.
func EncodeServerEvent(ev live.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.EventType(), err)
	}
	return json.Marshal(ServerEnvelope{Type: ev.EventType(), Data: data})
}

// EncodeServerReady builds the hello acknowledgment frame.
func EncodeServerReady(ready ServerReady) ([]byte, error) {
	data, err := json.Marshal(ready)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ServerEnvelope{Type: "ready", Data: data})
}

// EncodeServerError builds an error frame.
func EncodeServerError(code, message string, fatal bool) ([]byte, error) {
	data, err := json.Marshal(ServerError{Code: code, Message: message, Fatal: fatal})
	if err != nil {
		return nil, err
	}
	return json.Marshal(ServerEnvelope{Type: "gateway.error", Data: data})
}
