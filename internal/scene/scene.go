// Package scene tracks scene boundaries in a transcript.
package scene

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/rememory/internal/observe"
	"github.com/MrWong99/rememory/pkg/chat"
)

// ErrTurnOutOfRange is returned for a turn index outside the transcript.
var ErrTurnOutOfRange = errors.New("scene: turn out of range")

// Tracker marks boundaries and hides summarized turns, persisting every
// change and telling the view which turns to re-render.
type Tracker struct {
	Chats chat.Store
	View  chat.View
}

// Start returns the first turn index of the scene ending at index: the turn
// right after the latest boundary before index, or 0.
func Start(c *chat.Chat, index int) int {
	return c.LastSceneEnd(index-1) + 1
}

// MarkBoundary sets the scene-end flag on turn index and saves the chat.
func (t *Tracker) MarkBoundary(ctx context.Context, c *chat.Chat, index int) error {
	turn := c.Turn(index)
	if turn == nil {
		return fmt.Errorf("%w: %d", ErrTurnOutOfRange, index)
	}
	turn.SceneEnd = true
	if err := t.Chats.SaveChat(ctx, c); err != nil {
		return fmt.Errorf("scene: mark boundary: %w", err)
	}
	t.changed(ctx, c.ID, []int{index})
	observe.Logger(ctx).Debug("scene: boundary marked", "chat", c.ID, "turn", index)
	return nil
}

// HideSummarized hides every turn in turns (matched by Index) and saves the
// chat once.
func (t *Tracker) HideSummarized(ctx context.Context, c *chat.Chat, turns []chat.Turn) error {
	indices := make([]int, 0, len(turns))
	for _, summarized := range turns {
		turn := c.Turn(summarized.Index)
		if turn == nil || turn.Hidden {
			continue
		}
		turn.Hidden = true
		indices = append(indices, summarized.Index)
	}
	if len(indices) == 0 {
		return nil
	}
	if err := t.Chats.SaveChat(ctx, c); err != nil {
		return fmt.Errorf("scene: hide turns: %w", err)
	}
	t.changed(ctx, c.ID, indices)
	return nil
}

func (t *Tracker) changed(ctx context.Context, chatID string, indices []int) {
	if t.View != nil {
		t.View.TurnsChanged(ctx, chatID, indices)
	}
}
