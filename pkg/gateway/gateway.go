// Package gateway bridges one memoir session per websocket connection:
// client control frames drive the session, session events stream back as
// typed envelopes.
package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/literary-echo/echo/pkg/gateway/protocol"
	"github.com/literary-echo/echo/pkg/live"
	"github.com/literary-echo/echo/pkg/memoir"
)

const defaultHandshakeTimeout = 5 * time.Second

// SessionFactory builds the session for one accepted connection.
type SessionFactory func(author memoir.Author, freeform bool) (*live.Session, error)

// Handler serves the live memoir websocket endpoint. Each connection owns
// exactly one session; the session is torn down when the socket closes.
type Handler struct {
	NewSession       SessionFactory
	Logger           *slog.Logger
	HandshakeTimeout time.Duration
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(frame []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, frame)
	}
	writeError := func(code, message string, fatal bool) {
		frame, err := protocol.EncodeServerError(code, message, fatal)
		if err != nil {
			return
		}
		_ = write(frame)
	}

	hello, ok := h.readHello(conn, writeError)
	if !ok {
		return
	}
	author, found := memoir.AuthorByID(hello.AuthorID)
	if !found {
		writeError("unknown_author", "no such author: "+hello.AuthorID, true)
		return
	}

	sess, err := h.NewSession(author, hello.Freeform)
	if err != nil {
		h.logger().Error("creating session", "error", err)
		writeError("session", "could not create session", true)
		return
	}
	defer sess.Stop()

	ready, err := protocol.EncodeServerReady(protocol.ServerReady{
		AuthorID:   author.ID,
		AuthorName: author.Name,
		Freeform:   hello.Freeform,
	})
	if err != nil || write(ready) != nil {
		return
	}

	done := make(chan struct{})
	defer close(done)
	go h.pumpEvents(sess, write, done)

	sess.PrepareOpening(r.Context())

	for {
		messageType, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			writeError("bad_request", "frames must be text", false)
			continue
		}
		decoded, err := protocol.DecodeClientMessage(frame)
		if err != nil {
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				writeError(de.Code, de.Error(), false)
			} else {
				writeError("bad_request", err.Error(), false)
			}
			continue
		}

		switch msg := decoded.(type) {
		case protocol.ClientHello:
			writeError("bad_request", "duplicate hello", false)
		case protocol.ClientControl:
			switch msg.Op {
			case "start":
				if err := sess.Start(r.Context()); err != nil {
					writeError("start_failed", err.Error(), false)
				}
			case "stop":
				sess.Stop()
			case "weave":
				go func() {
					if err := sess.Weave(r.Context()); err != nil {
						writeError("weave_failed", err.Error(), false)
					}
				}()
			}
		}
	}
}

// readHello enforces the handshake: the first frame must be a valid hello
// within the timeout.
func (h *Handler) readHello(conn *websocket.Conn, writeError func(code, message string, fatal bool)) (protocol.ClientHello, bool) {
	timeout := h.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	messageType, frame, err := conn.ReadMessage()
	if err != nil {
		return protocol.ClientHello{}, false
	}
	if messageType != websocket.TextMessage {
		writeError("bad_request", "first frame must be hello", true)
		return protocol.ClientHello{}, false
	}
	decoded, err := protocol.DecodeClientMessage(frame)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			writeError(de.Code, de.Error(), true)
		} else {
			writeError("bad_request", "invalid hello frame", true)
		}
		return protocol.ClientHello{}, false
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		writeError("bad_request", "first frame must be hello", true)
		return protocol.ClientHello{}, false
	}
	return hello, true
}

// pumpEvents streams session events to the socket until the connection
// handler returns or a write fails.
func (h *Handler) pumpEvents(sess *live.Session, write func([]byte) error, done <-chan struct{}) {
	for {
		select {
		case ev := <-sess.Events():
			frame, err := protocol.EncodeServerEvent(ev)
			if err != nil {
				h.logger().Warn("encoding session event", "type", ev.EventType(), "error", err)
				continue
			}
			if write(frame) != nil {
				return
			}
		case <-done:
			return
		}
	}
}
