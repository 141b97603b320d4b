package lore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// It is suitable for tests and ephemeral deployments.
// The zero value is ready to use.
type MemStore struct {
	mu    sync.RWMutex
	books map[string]*Book
	saves map[string]int
}

// NewMemStore returns a [MemStore] seeded with copies of the given books.
func NewMemStore(books ...*Book) *MemStore {
	s := &MemStore{books: make(map[string]*Book), saves: make(map[string]int)}
	for _, b := range books {
		s.books[b.Name] = b.Clone()
	}
	return s
}

// Load implements [Store.Load].
func (s *MemStore) Load(_ context.Context, name string) (*Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.books[name]
	if !ok {
		return nil, fmt.Errorf("load %q: %w", name, ErrNotFound)
	}
	if !b.Valid() {
		return nil, fmt.Errorf("load %q: %w", name, ErrInvalid)
	}
	out := b.Clone()
	out.Name = name
	return out, nil
}

// Save implements [Store.Save].
func (s *MemStore) Save(_ context.Context, name string, b *Book) error {
	if !b.Valid() {
		return fmt.Errorf("save %q: %w", name, ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.books == nil {
		s.books = make(map[string]*Book)
		s.saves = make(map[string]int)
	}
	c := b.Clone()
	c.Name = name
	s.books[name] = c
	s.saves[name]++
	return nil
}

// List implements [Store.List].
func (s *MemStore) List(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.books)), nil
}

// Saves reports how many times the named book has been saved.
func (s *MemStore) Saves(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves[name]
}
