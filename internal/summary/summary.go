// Package summary generates memory and scene summaries.
//
// A scene whose history fits the model context is summarized in one call.
// A longer scene is split into chunks; each chunk is summarized in order
// and the joined chunk summaries are summarized once more. When a chunk
// summary comes back empty a [Decider] chooses between retrying that chunk
// and cancelling the whole scene.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/rememory/internal/completion"
	"github.com/MrWong99/rememory/internal/history"
	"github.com/MrWong99/rememory/internal/notify"
	"github.com/MrWong99/rememory/internal/observe"
	"github.com/MrWong99/rememory/pkg/chat"
	"github.com/MrWong99/rememory/pkg/tokens"
)

// Placeholder is replaced by the content in prompt templates.
const Placeholder = "{{content}}"

var (
	// ErrEmptyContent means there was nothing visible to summarize.
	ErrEmptyContent = errors.New("summary: no visible content")

	// ErrEmptySummary means the final summary came back empty.
	ErrEmptySummary = errors.New("summary: empty summary")

	// ErrCancelled means the decider declined to retry a failed chunk.
	ErrCancelled = errors.New("summary: cancelled")
)

// Choice is a [Decider] answer.
type Choice int

const (
	Cancel Choice = iota
	Retry
)

// Decider is asked what to do after chunk number n (1-based) failed. It may
// block until a user answers.
type Decider interface {
	Decide(ctx context.Context, chunk int) Choice
}

// DeciderFunc adapts a function to [Decider].
type DeciderFunc func(ctx context.Context, chunk int) Choice

// Decide implements [Decider].
func (f DeciderFunc) Decide(ctx context.Context, chunk int) Choice { return f(ctx, chunk) }

// Budget retries each chunk up to a fixed number of times, then cancels. It
// serves callers with nobody to ask.
type Budget struct {
	Retries int

	counts map[int]int
}

// Decide implements [Decider].
func (b *Budget) Decide(_ context.Context, chunk int) Choice {
	if b.counts == nil {
		b.counts = make(map[int]int)
	}
	if b.counts[chunk] >= b.Retries {
		return Cancel
	}
	b.counts[chunk]++
	return Retry
}

// Completer is the part of [completion.Client] the summarizer needs.
type Completer interface {
	Complete(ctx context.Context, req completion.Request) (string, error)
}

// Summarizer renders the summary prompt and runs it.
type Summarizer struct {
	Completer Completer

	// Template is the prompt template with a [Placeholder].
	Template string

	// Profile overrides the completion profile.
	Profile string

	// Notifier receives progress and error notices.
	Notifier *notify.Notifier

	// Metrics records chunk counts and retries. Nil disables recording.
	Metrics *observe.Metrics
}

// Render substitutes content into template. Only the first placeholder is
// replaced; content is trimmed.
func Render(template, content string) string {
	return strings.Replace(template, Placeholder, strings.TrimSpace(content), 1)
}

// Summarize asks for one summary of content. id > 0 labels a chunk summary
// in the progress notice. A failed call yields empty text and the error that
// caused it.
func (s *Summarizer) Summarize(ctx context.Context, content string, id int) (string, error) {
	if id > 0 {
		s.Notifier.Info(ctx, "Generating summary #%d....", id)
	}
	return s.Completer.Complete(ctx, completion.Request{
		Prompt:   Render(s.Template, content),
		Profile:  s.Profile,
		Purpose:  "summary",
		Notifier: s.Notifier,
	})
}

// Scene is the input of [Summarizer.Scene].
type Scene struct {
	// Turns is the visible scene history, already sliced.
	Turns []chat.Turn

	// MaxTokens is the chunk budget; see [history.Budget].
	MaxTokens int

	// Counter measures chunk candidates.
	Counter tokens.Counter

	// Decider handles failed chunks.
	Decider Decider
}

// SceneResult is the output of [Summarizer.Scene].
type SceneResult struct {
	// Summary is the final scene summary.
	Summary string

	// Chunks is the number of chunks the history was split into.
	Chunks int

	// ChunkSummaries holds the blank-line-joined chunk summaries when the
	// history was chunked.
	ChunkSummaries string
}

// Scene summarizes a scene history, chunking it when needed.
//
// Errors: [ErrEmptyContent] when sc.Turns is empty, [ErrCancelled] when the
// decider gives up on a chunk, and [ErrEmptySummary] when the final summary
// is empty. When the completion call itself failed, its error is joined to
// [ErrEmptySummary].
func (s *Summarizer) Scene(ctx context.Context, sc Scene) (SceneResult, error) {
	ctx, span := observe.StartSpan(ctx, "summary.scene")
	defer span.End()

	if len(sc.Turns) == 0 {
		s.Notifier.Warning(ctx, "No visible scene content! Skipping summary.")
		return SceneResult{}, ErrEmptyContent
	}

	chunks, err := history.Chunk(ctx, sc.Turns, sc.MaxTokens, sc.Counter)
	if err != nil {
		return SceneResult{}, err
	}
	if s.Metrics != nil {
		s.Metrics.SceneChunks.Record(ctx, int64(len(chunks)))
	}

	res := SceneResult{Chunks: len(chunks)}
	finalContext := chunks[0]
	if len(chunks) > 1 {
		res.ChunkSummaries, err = s.summarizeChunks(ctx, chunks, sc.Decider)
		if err != nil {
			return res, err
		}
		finalContext = res.ChunkSummaries
	}

	s.Notifier.Info(ctx, "Generating scene summary....")
	res.Summary, err = s.Summarize(ctx, finalContext, 0)
	if res.Summary == "" {
		if err != nil {
			return res, fmt.Errorf("%w: %w", ErrEmptySummary, err)
		}
		return res, ErrEmptySummary
	}
	return res, nil
}

func (s *Summarizer) summarizeChunks(ctx context.Context, chunks []string, d Decider) (string, error) {
	s.Notifier.Info(ctx, "Generating summaries for %d chunks....", len(chunks))
	sums := make([]string, 0, len(chunks))
	for i := 0; i < len(chunks); {
		sum, _ := s.Summarize(ctx, chunks[i], i+1)
		if sum != "" {
			sums = append(sums, sum)
			i++
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		if d == nil || d.Decide(ctx, i+1) != Retry {
			observe.Logger(ctx).Info("summary: chunk retry declined", "chunk", i+1)
			return "", ErrCancelled
		}
		if s.Metrics != nil {
			s.Metrics.ChunkRetries.Add(ctx, 1)
		}
	}
	return strings.Join(sums, history.Separator), nil
}

// ChunkAnnotation renders joined chunk summaries as the collapsible comment
// attached after a chunked scene.
func ChunkAnnotation(chunkSummaries string) string {
	return `<details class="rmr-summary-chunks"><summary>Chunk Summaries</summary>` + chunkSummaries + `</details>`
}
