package chat

import (
	"context"
	"errors"
)

// ErrNotFound is returned by LoadChat when the chat does not exist.
var ErrNotFound = errors.New("chat: not found")

// Store persists transcripts.
//
// LoadChat returns a private copy; SaveChat replaces the stored transcript.
// All implementations must be safe for concurrent use.
type Store interface {
	// LoadChat returns the chat with the given ID.
	// Returns [ErrNotFound] (possibly wrapped) when it does not exist.
	LoadChat(ctx context.Context, id string) (*Chat, error)

	// SaveChat persists c under c.ID.
	SaveChat(ctx context.Context, c *Chat) error
}

// View renders turns to the user. ReMemory notifies it after changing the
// hidden or scene-end flags of turns so the visible transcript stays in sync
// with the model.
type View interface {
	TurnsChanged(ctx context.Context, chatID string, indices []int)
}

// NopView ignores change notifications.
type NopView struct{}

// TurnsChanged implements [View].
func (NopView) TurnsChanged(context.Context, string, []int) {}
