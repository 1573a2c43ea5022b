package memoir

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/literary-echo/echo/pkg/gen"
)

// Models names the remote models used for the sequencer's collaborator
// calls, plus the synthesis voice.
type Models struct {
	Question string
	Prose    string
	Speech   string
	Opening  string
	Voice    string
}

// DefaultModels returns the production model set.
func DefaultModels() Models {
	return Models{
		Question: "gemini-2.5-pro",
		Prose:    "gemini-2.5-pro",
		Speech:   "gemini-2.5-flash-preview-tts",
		Opening:  "gemini-2.5-flash",
		Voice:    "Kore",
	}
}

// proseThinkingBudget is the reasoning-effort hint for prose transformation
// and narrative weaving.
const proseThinkingBudget = 32768

// Output receives the sequencer's effects on the surrounding session: the
// finalized question turn, the synthesized question audio, and user-visible
// status text.
type Output interface {
	AppendQuestion(text string)
	PlayPrompt(payload *gen.AudioPayload)
	SetStatus(text string)
}

// StatusCompleted is reported once the topic walk is exhausted.
const StatusCompleted = "We've covered a wonderful journey. Feel free to continue sharing, or we can weave this narrative together."

// StatusHiccup is reported when question generation or synthesis fails; the
// flow stays in listening and the next substantive turn proceeds normally.
const StatusHiccup = "There was a brief silence. Let's try again. Listening..."

// Sequencer drives a strictly ordered walk through the topic list: one
// generated question per topic, prose transformation of each substantive
// answer, and completion reporting past the end. The index never decreases
// within a session.
type Sequencer struct {
	author  Author
	topics  []Topic
	client  gen.Client
	archive *Archive
	out     Output
	models  Models
	logger  *slog.Logger

	mu  sync.Mutex
	idx int
}

// NewSequencer creates a sequencer at topic index 0.
func NewSequencer(author Author, topics []Topic, client gen.Client, archive *Archive, out Output, models Models, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		author:  author,
		topics:  topics,
		client:  client,
		archive: archive,
		out:     out,
		models:  models,
		logger:  logger,
	}
}

// Index returns the current topic index.
func (s *Sequencer) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx
}

// Reset returns the walk to the first topic. Called when a fresh session
// starts; within one session the index only ever advances.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	s.idx = 0
	s.mu.Unlock()
}

// Completed reports whether every topic has been visited.
func (s *Sequencer) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx >= len(s.topics)
}

// AskNext generates and voices the question for the current topic, or
// reports completion once the list is exhausted. Question or synthesis
// failures degrade to a transient status; no retry loop.
func (s *Sequencer) AskNext(ctx context.Context) {
	s.mu.Lock()
	if s.idx >= len(s.topics) {
		s.mu.Unlock()
		s.out.SetStatus(StatusCompleted)
		return
	}
	topic := s.topics[s.idx]
	s.mu.Unlock()

	s.out.SetStatus(fmt.Sprintf("The Archivist is asking about %q...", topic.Topic))

	prompt := fmt.Sprintf(
		"%s Frame the question in the first person, as if you are the biographer speaking directly to the user. Make it sound natural and empathetic, in the style of %s.",
		topic.Prompt, s.author.Name,
	)
	question, err := s.client.GenerateText(ctx, s.models.Question, prompt, nil)
	if err != nil {
		s.logger.Warn("question generation failed", "topic", topic.Topic, "error", err)
		s.out.SetStatus(StatusHiccup)
		return
	}
	s.out.AppendQuestion(question)

	payload, err := s.client.GenerateSpeech(ctx, s.models.Speech, question, s.models.Voice)
	if err != nil {
		s.logger.Warn("question synthesis failed", "topic", topic.Topic, "error", err)
	} else if payload != nil {
		s.out.PlayPrompt(payload)
	}
	s.out.SetStatus("Listening...")
}

// OnAnswerSubstantive transforms a substantive spoken memory into styled
// prose, archives the result, then advances to the next topic. The
// transformation request is issued before the index advances.
func (s *Sequencer) OnAnswerSubstantive(ctx context.Context, memory string) {
	s.out.SetStatus("The archivist is writing...")

	prompt := fmt.Sprintf("%s\n\nUser's memory: %q", s.author.StylePrompt, memory)
	prose, err := s.client.GenerateText(ctx, s.models.Prose, prompt, &gen.TextOptions{
		ThinkingBudget: proseThinkingBudget,
	})
	if err != nil {
		s.logger.Warn("prose transformation failed", "error", err)
		s.archive.Append(KindMemory, fmt.Sprintf("[Error transforming memory: %s]", memory))
	} else {
		s.archive.Append(KindMemory, prose)
	}

	s.advance()
	s.AskNext(ctx)
}

// OnAnswerWeak advances past a non-substantive answer without archiving.
func (s *Sequencer) OnAnswerWeak(ctx context.Context) {
	s.advance()
	s.AskNext(ctx)
}

func (s *Sequencer) advance() {
	s.mu.Lock()
	if s.idx < len(s.topics) {
		s.idx++
	}
	s.mu.Unlock()
}

// OpeningLine generates the scene-setting first archive entry: a single
// stylistic sentence about the current time of day in the author's voice.
// Failures fall back to an in-voice apology so the archive is never empty.
func OpeningLine(ctx context.Context, client gen.Client, author Author, model string, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}
	prompt := fmt.Sprintf(
		"Write a single, stylistically perfect sentence about the current time of day, as %s would have described it.",
		author.Name,
	)
	text, err := client.GenerateText(ctx, model, prompt, nil)
	if err != nil {
		logger.Warn("opening line generation failed", "author", author.ID, "error", err)
		return fmt.Sprintf("Could not channel %s. Let's begin nonetheless.", author.Name)
	}
	return text
}
