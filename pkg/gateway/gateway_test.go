package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/literary-echo/echo/pkg/audio"
	"github.com/literary-echo/echo/pkg/gateway/protocol"
	"github.com/literary-echo/echo/pkg/gen"
	"github.com/literary-echo/echo/pkg/live"
	"github.com/literary-echo/echo/pkg/memoir"
)

type nullRecorder struct{}

func (nullRecorder) Start(onFrame audio.FrameFunc) error { return nil }
func (nullRecorder) Stop()                               {}

type nullDevice struct{}

func (nullDevice) Now() float64 { return 0 }
func (nullDevice) Play(f audio.Frame, at float64, done func()) (audio.Handle, error) {
	return nullHandle{}, nil
}
func (nullDevice) Close() error { return nil }

type nullHandle struct{}

func (nullHandle) Stop() {}

type nullRemote struct{}

func (nullRemote) SendAudioFrame(string) error { return nil }
func (nullRemote) Close() error                { return nil }

type stubClient struct{}

func (stubClient) GenerateText(ctx context.Context, model, prompt string, opts *gen.TextOptions) (string, error) {
	return "an opening line", nil
}

func (stubClient) GenerateSpeech(ctx context.Context, model, text, voice string) (*gen.AudioPayload, error) {
	return nil, errors.New("no synthesis in tests")
}

func (stubClient) OpenLive(ctx context.Context, model string, cfg gen.LiveConfig, cb gen.SessionCallbacks) (gen.LiveSession, error) {
	return nullRemote{}, nil
}

func newTestHandler() *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Handler{
		NewSession: func(author memoir.Author, freeform bool) (*live.Session, error) {
			cfg := live.DefaultConfig()
			cfg.Freeform = freeform
			return live.NewSession(cfg, author, stubClient{}, nullRecorder{}, func(sampleRate int) (audio.Device, error) {
				return nullDevice{}, nil
			}, logger), nil
		},
		Logger: logger,
	}
}

func dialTestServer(t *testing.T) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(newTestHandler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.ServerEnvelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	var env protocol.ServerEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func readUntilType(t *testing.T, conn *websocket.Conn, typ string) protocol.ServerEnvelope {
	t.Helper()
	for i := 0; i < 50; i++ {
		env := readEnvelope(t, conn)
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("never received a %q envelope", typ)
	return protocol.ServerEnvelope{}
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestHandshakeRejectsNonHelloFirstFrame(t *testing.T) {
	conn := dialTestServer(t)
	sendJSON(t, conn, protocol.ClientControl{Type: "control", Op: "start"})

	env := readEnvelope(t, conn)
	if env.Type != "gateway.error" {
		t.Fatalf("envelope type = %q, want gateway.error", env.Type)
	}
	var serr protocol.ServerError
	if err := json.Unmarshal(env.Data, &serr); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if !serr.Fatal {
		t.Error("handshake rejection should be fatal")
	}
}

func TestHandshakeRejectsUnknownAuthor(t *testing.T) {
	conn := dialTestServer(t)
	sendJSON(t, conn, protocol.ClientHello{Type: "hello", ProtocolVersion: "1", AuthorID: "nobody"})

	env := readEnvelope(t, conn)
	if env.Type != "gateway.error" {
		t.Fatalf("envelope type = %q, want gateway.error", env.Type)
	}
	var serr protocol.ServerError
	if err := json.Unmarshal(env.Data, &serr); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if serr.Code != "unknown_author" {
		t.Errorf("code = %q, want unknown_author", serr.Code)
	}
}

func TestSessionFlowOverSocket(t *testing.T) {
	conn := dialTestServer(t)
	sendJSON(t, conn, protocol.ClientHello{Type: "hello", ProtocolVersion: "1", AuthorID: "marquez"})

	env := readEnvelope(t, conn)
	if env.Type != "ready" {
		t.Fatalf("first envelope = %q, want ready", env.Type)
	}
	var ready protocol.ServerReady
	if err := json.Unmarshal(env.Data, &ready); err != nil {
		t.Fatalf("unmarshal ready: %v", err)
	}
	if ready.AuthorID != "marquez" {
		t.Errorf("ready author = %q", ready.AuthorID)
	}

	// The opening line seeds the archive before any start command.
	env = readUntilType(t, conn, "archive")
	var archive struct {
		Entries []memoir.Entry `json:"entries"`
	}
	if err := json.Unmarshal(env.Data, &archive); err != nil {
		t.Fatalf("unmarshal archive: %v", err)
	}
	if len(archive.Entries) != 1 || archive.Entries[0].Kind != memoir.KindOpening {
		t.Fatalf("archive entries = %+v, want one opening entry", archive.Entries)
	}

	// Weaving with a single entry is refused without killing the socket.
	sendJSON(t, conn, protocol.ClientControl{Type: "control", Op: "weave"})
	env = readUntilType(t, conn, "gateway.error")
	var serr protocol.ServerError
	if err := json.Unmarshal(env.Data, &serr); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if serr.Code != "weave_failed" || serr.Fatal {
		t.Errorf("error = %+v, want non-fatal weave_failed", serr)
	}

	// Start transitions the session and streams the state change.
	sendJSON(t, conn, protocol.ClientControl{Type: "control", Op: "start"})
	env = readUntilType(t, conn, "state.changed")
	var change struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := json.Unmarshal(env.Data, &change); err != nil {
		t.Fatalf("unmarshal state change: %v", err)
	}
	if change.To != "CONNECTING" {
		t.Errorf("first transition to %q, want CONNECTING", change.To)
	}
}

func TestRejectsNonGetRequests(t *testing.T) {
	srv := httptest.NewServer(newTestHandler())
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}
