package live

import "github.com/literary-echo/echo/pkg/memoir"

// Event is the interface for all session events.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// StateChangedEvent is emitted when the session state changes.
type StateChangedEvent struct {
	From State `json:"from"`
	To   State `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// StatusEvent carries the user-visible status line.
type StatusEvent struct {
	Text string `json:"text"`
}

func (e *StatusEvent) EventType() string { return "status" }

// TranscriptEvent carries a snapshot of the living transcript after a
// reconciliation step.
type TranscriptEvent struct {
	Turns []Turn `json:"turns"`
}

func (e *TranscriptEvent) EventType() string { return "transcript" }

// ArchiveEvent carries a snapshot of the archive after an append.
type ArchiveEvent struct {
	Entries []memoir.Entry `json:"entries"`
}

func (e *ArchiveEvent) EventType() string { return "archive" }

// ErrorEvent is emitted when a failure is surfaced to the user.
type ErrorEvent struct {
	Code    string `json:"code"` // "permission", "connection", "generation"
	Message string `json:"message"`
}

func (e *ErrorEvent) EventType() string { return "error" }

// ClosedEvent is emitted once teardown completes and the session is idle.
type ClosedEvent struct {
	Reason string `json:"reason,omitempty"`
}

func (e *ClosedEvent) EventType() string { return "session.closed" }
