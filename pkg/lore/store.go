package lore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no book with the given name exists.
var ErrNotFound = errors.New("lore: book not found")

// ErrInvalid is returned by Load when the stored document is not a usable
// world-info book (for example it has no entries collection).
var ErrInvalid = errors.New("lore: invalid book")

// Store loads and saves whole world-info books.
//
// Load returns a private copy; changes become visible only after Save.
// All implementations must be safe for concurrent use.
type Store interface {
	// Load returns the named book.
	// Returns [ErrNotFound] or [ErrInvalid] (possibly wrapped) on failure.
	Load(ctx context.Context, name string) (*Book, error)

	// Save replaces the named book with b.
	Save(ctx context.Context, name string, b *Book) error

	// List returns the names of all stored books in ascending order.
	List(ctx context.Context) ([]string, error)
}

// Editor is told when a book changed underneath any open editor view.
type Editor interface {
	Refresh(ctx context.Context, name string)
}

// EditorFunc adapts a function to [Editor].
type EditorFunc func(ctx context.Context, name string)

// Refresh implements [Editor].
func (f EditorFunc) Refresh(ctx context.Context, name string) { f(ctx, name) }

// NopEditor ignores refresh requests.
type NopEditor struct{}

// Refresh implements [Editor].
func (NopEditor) Refresh(context.Context, string) {}
