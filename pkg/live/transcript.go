package live

import "sync"

// Speaker identifies one side of the dialogue.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one contiguous utterance by one speaker. While a turn is open its
// text grows as deltas arrive; it becomes immutable once finalized.
type Turn struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
	Final   bool    `json:"final"`
}

// Transcript is the running ordered dialogue. Incremental partial-text
// events merge into the most recent open turn for their speaker rather than
// duplicating turns; at most one open turn exists per speaker.
type Transcript struct {
	mu    sync.Mutex
	turns []Turn
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// ApplyDelta merges an incremental fragment: if the most recent turn belongs
// to the same speaker and is still open, the fragment extends it; otherwise
// a new open turn starts.
func (t *Transcript) ApplyDelta(speaker Speaker, fragment string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.turns); n > 0 {
		last := &t.turns[n-1]
		if last.Speaker == speaker && !last.Final {
			last.Text += fragment
			return
		}
	}
	t.turns = append(t.turns, Turn{Speaker: speaker, Text: fragment})
}

// AppendFinal adds an already-complete turn, finalizing any open turns
// first so later deltas start fresh.
func (t *Transcript) AppendFinal(speaker Speaker, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.turns {
		t.turns[i].Final = true
	}
	t.turns = append(t.turns, Turn{Speaker: speaker, Text: text, Final: true})
}

// FinalizeOpen closes every open turn; called on turn completion and at
// session end.
func (t *Transcript) FinalizeOpen() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.turns {
		t.turns[i].Final = true
	}
}

// Turns returns a snapshot of the dialogue in order.
func (t *Transcript) Turns() []Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.turns)
}
