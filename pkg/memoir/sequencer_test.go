package memoir

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/literary-echo/echo/pkg/gen"
)

type scriptedClient struct {
	mu          sync.Mutex
	textErr     error
	speechErr   error
	textCount   int
	speechCount int
	prompts     []string
}

func (c *scriptedClient) GenerateText(ctx context.Context, model, prompt string, opts *gen.TextOptions) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.textCount++
	c.prompts = append(c.prompts, prompt)
	if c.textErr != nil {
		return "", c.textErr
	}
	return fmt.Sprintf("response %d", c.textCount), nil
}

func (c *scriptedClient) GenerateSpeech(ctx context.Context, model, text, voice string) (*gen.AudioPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speechCount++
	if c.speechErr != nil {
		return nil, c.speechErr
	}
	return &gen.AudioPayload{Data: []byte{0, 0}, MIMEType: "audio/pcm;rate=24000"}, nil
}

func (c *scriptedClient) OpenLive(ctx context.Context, model string, cfg gen.LiveConfig, cb gen.SessionCallbacks) (gen.LiveSession, error) {
	return nil, errors.New("not a live client")
}

type recordedOutput struct {
	mu        sync.Mutex
	questions []string
	payloads  int
	statuses  []string
}

func (o *recordedOutput) AppendQuestion(text string) {
	o.mu.Lock()
	o.questions = append(o.questions, text)
	o.mu.Unlock()
}

func (o *recordedOutput) PlayPrompt(payload *gen.AudioPayload) {
	o.mu.Lock()
	o.payloads++
	o.mu.Unlock()
}

func (o *recordedOutput) SetStatus(text string) {
	o.mu.Lock()
	o.statuses = append(o.statuses, text)
	o.mu.Unlock()
}

func (o *recordedOutput) lastStatus() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.statuses) == 0 {
		return ""
	}
	return o.statuses[len(o.statuses)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAuthor(t *testing.T) Author {
	t.Helper()
	a, ok := AuthorByID("austen")
	if !ok {
		t.Fatal("author catalog is missing austen")
	}
	return a
}

func newTestSequencer(t *testing.T, client *scriptedClient, out *recordedOutput) (*Sequencer, *Archive) {
	t.Helper()
	archive := NewArchive()
	seq := NewSequencer(testAuthor(t), Topics(), client, archive, out, DefaultModels(), discardLogger())
	return seq, archive
}

func TestSequencerFullWalk(t *testing.T) {
	client := &scriptedClient{}
	out := &recordedOutput{}
	seq, archive := newTestSequencer(t, client, out)
	ctx := context.Background()

	seq.AskNext(ctx)
	for i := 0; i < len(Topics()); i++ {
		seq.OnAnswerSubstantive(ctx, fmt.Sprintf("memory %d", i))
	}

	if got := archive.Len(); got != len(Topics()) {
		t.Errorf("archive length = %d, want %d", got, len(Topics()))
	}
	if len(out.questions) != len(Topics()) {
		t.Errorf("questions asked = %d, want %d", len(out.questions), len(Topics()))
	}
	if out.payloads != len(Topics()) {
		t.Errorf("voiced prompts = %d, want %d", out.payloads, len(Topics()))
	}
	if !seq.Completed() {
		t.Error("sequencer not completed after the full walk")
	}
	if got := out.lastStatus(); got != StatusCompleted {
		t.Errorf("final status = %q, want completion message", got)
	}
}

func TestSequencerCompletionIsQuiet(t *testing.T) {
	client := &scriptedClient{}
	out := &recordedOutput{}
	seq, _ := newTestSequencer(t, client, out)
	ctx := context.Background()

	for i := 0; i <= len(Topics()); i++ {
		seq.OnAnswerWeak(ctx)
	}

	textBefore := client.textCount
	speechBefore := client.speechCount
	seq.AskNext(ctx)
	if client.textCount != textBefore || client.speechCount != speechBefore {
		t.Error("completion issued generation requests")
	}
	if got := out.lastStatus(); got != StatusCompleted {
		t.Errorf("status = %q, want completion message", got)
	}
}

func TestResetReturnsToFirstTopic(t *testing.T) {
	client := &scriptedClient{}
	out := &recordedOutput{}
	seq, _ := newTestSequencer(t, client, out)
	ctx := context.Background()

	seq.OnAnswerWeak(ctx)
	seq.OnAnswerWeak(ctx)
	if got := seq.Index(); got != 2 {
		t.Fatalf("index = %d, want 2", got)
	}

	seq.Reset()
	if got := seq.Index(); got != 0 {
		t.Errorf("index after reset = %d, want 0", got)
	}
	if seq.Completed() {
		t.Error("reset sequencer reports completed")
	}
}

func TestWeakAnswerAdvancesWithoutArchiving(t *testing.T) {
	client := &scriptedClient{}
	out := &recordedOutput{}
	seq, archive := newTestSequencer(t, client, out)

	seq.OnAnswerWeak(context.Background())

	if got := archive.Len(); got != 0 {
		t.Errorf("archive length = %d, want 0", got)
	}
	if got := seq.Index(); got != 1 {
		t.Errorf("index = %d, want 1", got)
	}
	if len(out.questions) != 1 {
		t.Errorf("questions asked = %d, want 1 (the next topic)", len(out.questions))
	}
}

func TestQuestionFailureDegradesToStatus(t *testing.T) {
	client := &scriptedClient{textErr: errors.New("quota")}
	out := &recordedOutput{}
	seq, _ := newTestSequencer(t, client, out)

	seq.AskNext(context.Background())

	if len(out.questions) != 0 {
		t.Error("a failed generation still appended a question")
	}
	if got := out.lastStatus(); got != StatusHiccup {
		t.Errorf("status = %q, want hiccup message", got)
	}
	if got := seq.Index(); got != 0 {
		t.Errorf("index = %d, want 0 (failure does not advance)", got)
	}
}

func TestSynthesisFailureStillListens(t *testing.T) {
	client := &scriptedClient{speechErr: errors.New("tts down")}
	out := &recordedOutput{}
	seq, _ := newTestSequencer(t, client, out)

	seq.AskNext(context.Background())

	if len(out.questions) != 1 {
		t.Fatalf("questions asked = %d, want 1", len(out.questions))
	}
	if out.payloads != 0 {
		t.Error("a failed synthesis still played audio")
	}
	if got := out.lastStatus(); got != "Listening..." {
		t.Errorf("status = %q, want Listening...", got)
	}
}

func TestProseFailureArchivesPlaceholder(t *testing.T) {
	client := &scriptedClient{textErr: errors.New("quota")}
	out := &recordedOutput{}
	seq, archive := newTestSequencer(t, client, out)

	seq.OnAnswerSubstantive(context.Background(), "the raw spoken memory")

	entries := archive.Entries()
	if len(entries) != 1 {
		t.Fatalf("archive length = %d, want 1", len(entries))
	}
	want := "[Error transforming memory: the raw spoken memory]"
	if entries[0].Text != want {
		t.Errorf("entry text = %q, want %q", entries[0].Text, want)
	}
	if got := seq.Index(); got != 1 {
		t.Errorf("index = %d, want 1 (failure still advances)", got)
	}
}

func TestProsePromptCarriesStyleAndMemory(t *testing.T) {
	client := &scriptedClient{}
	out := &recordedOutput{}
	seq, _ := newTestSequencer(t, client, out)

	seq.OnAnswerSubstantive(context.Background(), "walking to school in the rain")

	if len(client.prompts) == 0 {
		t.Fatal("no prompt recorded")
	}
	prompt := client.prompts[0]
	if !strings.Contains(prompt, testAuthor(t).StylePrompt) {
		t.Error("prose prompt missing the author style prompt")
	}
	if !strings.Contains(prompt, "walking to school in the rain") {
		t.Error("prose prompt missing the spoken memory")
	}
}

func TestOpeningLineFallback(t *testing.T) {
	author := testAuthor(t)

	got := OpeningLine(context.Background(), &scriptedClient{}, author, "m", discardLogger())
	if got != "response 1" {
		t.Errorf("OpeningLine = %q", got)
	}

	failed := &scriptedClient{textErr: errors.New("down")}
	got = OpeningLine(context.Background(), failed, author, "m", discardLogger())
	want := fmt.Sprintf("Could not channel %s. Let's begin nonetheless.", author.Name)
	if got != want {
		t.Errorf("fallback = %q, want %q", got, want)
	}
}
