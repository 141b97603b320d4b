// Package history turns transcript turns into prompt context.
//
// [Slice] picks the window of turns a memory is built from and [Chunk]
// splits a long window into pieces that each fit the model's context.
package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/rememory/internal/transform"
	"github.com/MrWong99/rememory/pkg/chat"
	"github.com/MrWong99/rememory/pkg/tokens"
)

// PromptPadding is the number of tokens reserved for the prompt template
// around a chunk.
const PromptPadding = 100

// Separator joins speaker lines.
const Separator = "\n\n"

// Slice returns the visible turns in [start, end] with their text run
// through tr. Hidden turns are dropped. When maxCount is positive only the
// last maxCount+1 turns are kept: maxCount turns of context plus the turn at
// end. A nil tr leaves text unchanged.
//
// The returned turns are copies; Index still refers to the position in
// turns.
func Slice(turns []chat.Turn, end, start, maxCount int, tr transform.Transformer) []chat.Turn {
	if tr == nil {
		tr = transform.Identity{}
	}
	end = min(end, len(turns)-1)
	start = max(start, 0)
	if start > end {
		return nil
	}

	out := make([]chat.Turn, 0, end-start+1)
	for i := start; i <= end; i++ {
		t := turns[i]
		if t.Hidden {
			continue
		}
		t.Index = i
		t.Text = tr.Transform(t.Text, transform.PlacementFor(t.IsUser), transform.Options{
			IsPrompt: true,
			Depth:    len(turns) - i - 1,
		})
		t.Raw = nil
		out = append(out, t)
	}

	if maxCount > 0 && len(out) > maxCount+1 {
		out = out[len(out)-(maxCount+1):]
	}
	return out
}

// Line renders one turn as "name: text".
func Line(t chat.Turn) string {
	return t.Name + ": " + t.Text
}

// Join renders turns as speaker lines separated by blank lines.
func Join(turns []chat.Turn) string {
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = Line(t)
	}
	return strings.Join(lines, Separator)
}

// Budget returns the chunk token budget for a model context of maxContext
// tokens.
func Budget(maxContext int) int {
	return maxContext - PromptPadding
}

// Chunk splits turns into blank-line-joined chunks of at most maxTokens
// tokens as measured by counter. Lines are added greedily; when adding the
// next line would overflow, the current chunk is closed and the line starts
// a new one. A single line that alone exceeds maxTokens still forms its own
// chunk. No chunk is ever empty.
func Chunk(ctx context.Context, turns []chat.Turn, maxTokens int, counter tokens.Counter) ([]string, error) {
	var (
		chunks  []string
		current string
	)
	for _, t := range turns {
		line := Line(t)
		candidate := line
		if current != "" {
			candidate = current + Separator + line
		}
		n, err := counter.Count(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("history: count tokens: %w", err)
		}
		if n > maxTokens && current != "" {
			chunks = append(chunks, current)
			current = line
			continue
		}
		current = candidate
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks, nil
}
