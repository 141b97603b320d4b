package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/rememory/internal/notify"
	"github.com/MrWong99/rememory/internal/rememory"
	"github.com/MrWong99/rememory/internal/summary"
)

// terminal asks the user on a line-based console and prints notices.
type terminal struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

var (
	_ rememory.BookChooser = (*terminal)(nil)
	_ summary.Decider      = (*terminal)(nil)
	_ notify.Sink          = (*terminal)(nil)
)

func newTerminal(in io.Reader, out io.Writer) *terminal {
	return &terminal{in: bufio.NewReader(in), out: out}
}

// readLine returns the next input line without its newline. ctx is only
// checked before reading.
func (t *terminal) readLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	line, err := t.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ChooseBooks lists keys and reads a comma-separated selection of numbers or
// keys. "a" selects all; an empty answer declines.
func (t *terminal) ChooseBooks(ctx context.Context, keys []string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintln(t.out, "Select the memory books to use:")
	for i, k := range keys {
		fmt.Fprintf(t.out, "  %d) %s\n", i+1, k)
	}
	fmt.Fprint(t.out, "Books (numbers or names, comma-separated; a = all; empty = cancel): ")

	line, err := t.readLine(ctx)
	if err != nil {
		return nil, err
	}
	return parseSelection(line, keys), nil
}

func parseSelection(line string, keys []string) []string {
	if strings.EqualFold(line, "a") || strings.EqualFold(line, "all") {
		return append([]string(nil), keys...)
	}
	var out []string
	for _, part := range strings.Split(line, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil && n >= 1 && n <= len(keys) {
			out = append(out, keys[n-1])
			continue
		}
		out = append(out, part)
	}
	return out
}

// Decide asks whether to retry a failed chunk. Anything but an explicit yes
// cancels.
func (t *terminal) Decide(ctx context.Context, chunk int) summary.Choice {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.out, "Summarizing chunk %d failed. Retry? [y/N]: ", chunk)
	line, err := t.readLine(ctx)
	if err != nil {
		return summary.Cancel
	}
	switch strings.ToLower(line) {
	case "y", "yes", "r", "retry":
		return summary.Retry
	default:
		return summary.Cancel
	}
}

// Notify implements [notify.Sink].
func (t *terminal) Notify(_ context.Context, n notify.Notice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "[%s] %s\n", n.Level, n.Text)
}
