package memoir

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/literary-echo/echo/pkg/gen"
)

// MinWeaveEntries is the smallest archive that can be woven.
const MinWeaveEntries = 3

// ErrTooFewEntries is returned when the archive is too small to weave.
var ErrTooFewEntries = errors.New("memoir: weaving needs at least 3 archive entries")

// Weaver synthesizes a cross-memory thematic note from the accumulated
// archive in the selected author's editorial voice.
type Weaver struct {
	author  Author
	client  gen.Client
	archive *Archive
	model   string
	logger  *slog.Logger
}

// NewWeaver creates a weaver over an archive.
func NewWeaver(author Author, client gen.Client, archive *Archive, model string, logger *slog.Logger) *Weaver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Weaver{
		author:  author,
		client:  client,
		archive: archive,
		model:   model,
		logger:  logger,
	}
}

// Weave produces one marked note from all archive entries and appends it.
// A failed generation appends a visible error placeholder instead of
// silently dropping the request.
func (w *Weaver) Weave(ctx context.Context) (Entry, error) {
	if w.archive.Len() < MinWeaveEntries {
		return Entry{}, ErrTooFewEntries
	}

	prompt := fmt.Sprintf(
		"You are an editor working in the style of %s. You have the following collection of memories from a user's life:\n\n%s\n\nYour task is to find a connecting theme or a narrative thread among these disparate memories. Write a short, insightful paragraph suggesting how these could be woven together into a chapter. For example, suggest a chapter title or a thematic link. Address the user directly in your suggestion. Your analysis should be as perceptive as the author you are emulating.",
		w.author.Name, w.archive.JoinedText(),
	)

	note, err := w.client.GenerateText(ctx, w.model, prompt, &gen.TextOptions{
		ThinkingBudget: proseThinkingBudget,
	})
	if err != nil {
		w.logger.Warn("narrative weaving failed", "error", err)
		return w.archive.Append(KindNote, "[Error weaving narrative. Please try again.]"), nil
	}
	return w.archive.Append(KindNote, WeaveMarker+note), nil
}
