// Package keywords derives lore trigger keywords from memory text.
package keywords

import (
	"context"
	"slices"
	"strings"

	"github.com/MrWong99/rememory/internal/completion"
	"github.com/MrWong99/rememory/internal/notify"
	"github.com/MrWong99/rememory/internal/summary"
)

// Max is the largest number of keywords returned.
const Max = 5

// Extractor asks the model for a comma-separated keyword list.
type Extractor struct {
	Completer summary.Completer

	// Template is the keyword prompt with a {{content}} placeholder.
	Template string

	// Profile overrides the completion profile.
	Profile string

	// AllowNames keeps keywords that equal a participant name.
	AllowNames bool

	// Names are the participant names filtered out unless AllowNames is set.
	Names []string

	Notifier *notify.Notifier
}

// Extract returns at most [Max] keywords for text. Generation stops at the
// first newline. An empty or failed reply yields no keywords.
func (e *Extractor) Extract(ctx context.Context, text string) []string {
	e.Notifier.Info(ctx, "Generating keywords....")
	raw, _ := e.Completer.Complete(ctx, completion.Request{
		Prompt:   summary.Render(e.Template, text),
		Stop:     []string{"\n"},
		Profile:  e.Profile,
		Purpose:  "keywords",
		Notifier: e.Notifier,
	})

	words := Split(raw)
	if !e.AllowNames {
		words = slices.DeleteFunc(words, func(w string) bool {
			return slices.Contains(e.Names, w)
		})
	}
	if len(words) > Max {
		words = words[:Max]
	}
	return words
}

// Split splits a comma-separated list and trims every item. Empty items are
// dropped.
func Split(list string) []string {
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
