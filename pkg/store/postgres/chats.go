package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/rememory/pkg/chat"
)

// LoadChat implements [chat.Store].
func (s *Store) LoadChat(ctx context.Context, id string) (*chat.Chat, error) {
	c := &chat.Chat{ID: id}
	err := s.pool.QueryRow(ctx, `
		SELECT user_name, character_id, character_name, group_id, group_members,
		       chat_book, persona_book
		FROM   chats
		WHERE  id = $1`, id).Scan(
		&c.UserName, &c.CharacterID, &c.CharacterName, &c.GroupID, &c.GroupMembers,
		&c.ChatBook, &c.PersonaBook,
	)
	if isNoRows(err) {
		return nil, fmt.Errorf("chat store: load %q: %w", id, chat.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("chat store: load %q: %w", id, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT idx, name, text, is_user, hidden, scene_end, comment, sent_at
		FROM   chat_turns
		WHERE  chat_id = $1
		ORDER  BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("chat store: load %q turns: %w", id, err)
	}
	c.Turns, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Turn, error) {
		var (
			t      chat.Turn
			sentAt *time.Time
		)
		if err := row.Scan(&t.Index, &t.Name, &t.Text, &t.IsUser, &t.Hidden, &t.SceneEnd, &t.Comment, &sentAt); err != nil {
			return chat.Turn{}, err
		}
		if sentAt != nil {
			t.SentAt = *sentAt
		}
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("chat store: load %q turns: %w", id, err)
	}
	c.Renumber()
	return c, nil
}

// SaveChat implements [chat.Store]. The transcript is replaced in a single
// transaction.
func (s *Store) SaveChat(ctx context.Context, c *chat.Chat) error {
	if c.ID == "" {
		return fmt.Errorf("chat store: save: empty chat id")
	}
	members := c.GroupMembers
	if members == nil {
		members = []string{}
	}

	rows := make([][]any, 0, len(c.Turns))
	for i, t := range c.Turns {
		var sentAt *time.Time
		if !t.SentAt.IsZero() {
			ts := t.SentAt
			sentAt = &ts
		}
		rows = append(rows, []any{c.ID, i, t.Name, t.Text, t.IsUser, t.Hidden, t.SceneEnd, t.Comment, sentAt})
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO chats (id, user_name, character_id, character_name, group_id,
			                   group_members, chat_book, persona_book)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
			    user_name      = EXCLUDED.user_name,
			    character_id   = EXCLUDED.character_id,
			    character_name = EXCLUDED.character_name,
			    group_id       = EXCLUDED.group_id,
			    group_members  = EXCLUDED.group_members,
			    chat_book      = EXCLUDED.chat_book,
			    persona_book   = EXCLUDED.persona_book,
			    updated_at     = now()`,
			c.ID, c.UserName, c.CharacterID, c.CharacterName, c.GroupID,
			members, c.ChatBook, c.PersonaBook,
		); err != nil {
			return fmt.Errorf("chat store: save %q: %w", c.ID, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM chat_turns WHERE chat_id = $1`, c.ID); err != nil {
			return fmt.Errorf("chat store: save %q: %w", c.ID, err)
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"chat_turns"},
			[]string{"chat_id", "idx", "name", "text", "is_user", "hidden", "scene_end", "comment", "sent_at"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("chat store: save %q turns: %w", c.ID, err)
		}
		return nil
	})
}

// CreateChat stores a new chat. An empty c.ID is replaced by a random UUID.
// The (possibly generated) ID is returned.
func (s *Store) CreateChat(ctx context.Context, c *chat.Chat) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := s.SaveChat(ctx, c); err != nil {
		return "", err
	}
	return c.ID, nil
}
