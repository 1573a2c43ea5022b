// Package live implements the session manager for a live memoir
// conversation: the connection state machine, inbound event dispatch, the
// transcript reconciler, and the paired lifetimes of the microphone, output
// device, and remote streaming connection.
package live

import (
	"encoding/json"
	"fmt"

	"github.com/literary-echo/echo/pkg/memoir"
)

// State is the session lifecycle state.
type State int

const (
	// StateIdle means no connection, no capture, no scheduled audio.
	StateIdle State = iota
	// StateConnecting means device acquisition and the remote handshake are
	// in flight.
	StateConnecting
	// StateLive means capture is active and callbacks are dispatching.
	StateLive
	// StateError is the transient state after a remote failure, before
	// teardown returns the session to idle.
	StateError
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateLive:
		return "LIVE"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON encodes the state by name for wire consumers.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// archivistInstruction conditions the live model to listen and transcribe
// while the application drives the conversation.
const archivistInstruction = "You are an Empathetic Archivist, a patient and insightful biographer. Your main role in this live session is to listen intently to the user's spoken memories and provide an accurate transcription. Do not ask questions or make comments. The main application will guide the conversation."

// Config holds all configuration for a memoir session.
type Config struct {
	// LiveModel is the bidirectional streaming model.
	LiveModel string

	// Models names the request/response models used around the live stream.
	Models memoir.Models

	// MinSubstanceChars is the trimmed character-count threshold below
	// which a completed user turn is treated as non-substantive.
	MinSubstanceChars int

	// Freeform disables the topic sequencer and lets the remote persona
	// drive the conversation end-to-end. Output transcription is enabled so
	// the assistant's speech is reconciled into the transcript too.
	Freeform bool

	// PlaybackRate is the output device sample rate in Hz.
	PlaybackRate int
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		LiveModel:         "gemini-2.5-flash-native-audio-preview-09-2025",
		Models:            memoir.DefaultModels(),
		MinSubstanceChars: 10,
		PlaybackRate:      24000,
	}
}

// systemInstruction returns the live-session persona for the selected
// author under the configured conversation variant.
func (c Config) systemInstruction(author memoir.Author) string {
	if c.Freeform {
		return fmt.Sprintf(
			"You are a warm, curious biographer conversing in the voice of %s. Lead the conversation yourself: ask about the user's life one memory at a time, listen, and respond briefly before moving on.",
			author.Name,
		)
	}
	return archivistInstruction
}
