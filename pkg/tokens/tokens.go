// Package tokens provides token counters used to keep prompts inside a
// model's context window.
//
// The default counter uses the cl100k_base BPE encoding through
// github.com/weaviate/tiktoken-go. When the encoding cannot be loaded the
// package falls back to a conservative character-based estimate so that
// chunking still works, only less precisely.
package tokens

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/weaviate/tiktoken-go"

	"github.com/MrWong99/rememory/pkg/types"
)

// DefaultEncoding is the BPE encoding used by [Default].
const DefaultEncoding = "cl100k_base"

// charsPerToken is the ratio used by [Estimate].
const charsPerToken = 4

// messageOverhead is the per-message token cost of role and framing tokens.
const messageOverhead = 4

// Counter counts the tokens text would occupy in a prompt.
//
// Implementations must be safe for concurrent use.
type Counter interface {
	Count(ctx context.Context, text string) (int, error)
}

// CounterFunc adapts a plain function to [Counter].
type CounterFunc func(ctx context.Context, text string) (int, error)

// Count implements [Counter].
func (f CounterFunc) Count(ctx context.Context, text string) (int, error) {
	return f(ctx, text)
}

// Tiktoken counts tokens with a BPE encoding.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

var _ Counter = (*Tiktoken)(nil)

// NewTiktoken loads the named encoding (e.g. "cl100k_base", "o200k_base").
func NewTiktoken(encoding string) (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("tokens: load encoding %q: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

// Count implements [Counter]. Special tokens are encoded as plain text.
func (t *Tiktoken) Count(ctx context.Context, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

// Estimate approximates token counts at four bytes per token, rounded up.
type Estimate struct{}

var _ Counter = Estimate{}

// Count implements [Counter].
func (Estimate) Count(_ context.Context, text string) (int, error) {
	return (len(text) + charsPerToken - 1) / charsPerToken, nil
}

var (
	defaultOnce    sync.Once
	defaultCounter Counter
)

// Default returns the process-wide counter: a [Tiktoken] for
// [DefaultEncoding], or [Estimate] if the encoding is unavailable.
func Default() Counter {
	defaultOnce.Do(func() {
		t, err := NewTiktoken(DefaultEncoding)
		if err != nil {
			slog.Warn("tokens: falling back to character estimate", "err", err)
			defaultCounter = Estimate{}
			return
		}
		defaultCounter = t
	})
	return defaultCounter
}

// CountMessages sums the token counts of every message content plus a fixed
// per-message overhead.
func CountMessages(ctx context.Context, c Counter, messages []types.Message) (int, error) {
	total := 0
	for _, m := range messages {
		n, err := c.Count(ctx, m.Content)
		if err != nil {
			return 0, err
		}
		total += n + messageOverhead
	}
	return total, nil
}
