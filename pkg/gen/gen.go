// Package gen defines the contract with the remote generation and live
// streaming service, and implements it over the Gemini API.
package gen

import (
	"context"
	"fmt"
)

// TextOptions carries optional knobs for a text generation request.
type TextOptions struct {
	// ThinkingBudget is a reasoning-effort hint in tokens. Zero leaves the
	// service default in place.
	ThinkingBudget int32
}

// AudioPayload is an inline-encoded audio buffer tagged with mime metadata.
type AudioPayload struct {
	Data     []byte
	MIMEType string
}

// ServerEvent is one inbound message from a live session. Events are
// delivered strictly in order per connection; any subset of fields may be
// populated on a single event.
type ServerEvent struct {
	// InputTranscription is an incremental fragment of the user's speech.
	InputTranscription string

	// OutputTranscription is an incremental fragment of the model's speech,
	// present only when output transcription is enabled.
	OutputTranscription string

	// TurnComplete signals the model considers the current turn finished.
	TurnComplete bool

	// Interrupted signals the model's in-progress speech was cut off by new
	// user audio and scheduled playback should stop.
	Interrupted bool

	// Audio is an inline audio segment of the model's spoken response.
	Audio *AudioPayload
}

// SessionCallbacks receive live session lifecycle and message events. All
// callbacks for one session are invoked from a single goroutine, preserving
// transport order.
type SessionCallbacks struct {
	OnOpen    func()
	OnMessage func(ServerEvent)
	OnError   func(error)
	OnClose   func()
}

// LiveConfig configures a live session at connect time.
type LiveConfig struct {
	// SystemInstruction is the persona text conditioning the session.
	SystemInstruction string

	// InputTranscription enables transcription of user audio.
	InputTranscription bool

	// OutputTranscription enables transcription of model audio.
	OutputTranscription bool
}

// LiveSession is an open bidirectional stream to the conversational model.
type LiveSession interface {
	// SendAudioFrame forwards one wire-encoded capture frame.
	SendAudioFrame(encodedChunk string) error

	// Close tears down the connection. Idempotent.
	Close() error
}

// Client is the remote generation/streaming collaborator.
type Client interface {
	// GenerateText performs a single text request/response.
	GenerateText(ctx context.Context, model, prompt string, opts *TextOptions) (string, error)

	// GenerateSpeech synthesizes spoken audio for text. A failed synthesis
	// returns an error; the payload is never empty on success.
	GenerateSpeech(ctx context.Context, model, text, voice string) (*AudioPayload, error)

	// OpenLive establishes a bidirectional streaming session.
	OpenLive(ctx context.Context, model string, cfg LiveConfig, cb SessionCallbacks) (LiveSession, error)
}

// GenerationError wraps a failed text or speech request. Callers recover
// locally with a fallback value; generation failures never abort a session.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
