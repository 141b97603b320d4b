package chat

import (
	"context"
	"fmt"
	"sync"
)

var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// The zero value is ready to use.
type MemStore struct {
	mu    sync.RWMutex
	chats map[string]*Chat
	saves int
}

// NewMemStore returns a [MemStore] seeded with copies of the given chats.
func NewMemStore(chats ...*Chat) *MemStore {
	s := &MemStore{chats: make(map[string]*Chat)}
	for _, c := range chats {
		cc := c.Clone()
		cc.Renumber()
		s.chats[c.ID] = cc
	}
	return s
}

// LoadChat implements [Store.LoadChat].
func (s *MemStore) LoadChat(_ context.Context, id string) (*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[id]
	if !ok {
		return nil, fmt.Errorf("load chat %q: %w", id, ErrNotFound)
	}
	return c.Clone(), nil
}

// SaveChat implements [Store.SaveChat].
func (s *MemStore) SaveChat(_ context.Context, c *Chat) error {
	if c.ID == "" {
		return fmt.Errorf("chat: save: empty chat id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chats == nil {
		s.chats = make(map[string]*Chat)
	}
	s.chats[c.ID] = c.Clone()
	s.saves++
	return nil
}

// Saves reports how many times SaveChat succeeded.
func (s *MemStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
