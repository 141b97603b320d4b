package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/rememory/pkg/lore"
)

// Load implements [lore.Store].
func (s *Store) Load(ctx context.Context, name string) (*lore.Book, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM lore_books WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("lore store: load %q: %w", name, err)
	}
	if !exists {
		return nil, fmt.Errorf("lore store: load %q: %w", name, lore.ErrNotFound)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM lore_entries WHERE book = $1 ORDER BY uid`, name)
	if err != nil {
		return nil, fmt.Errorf("lore store: load %q: %w", name, err)
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("lore store: load %q: %w", name, err)
	}

	b := lore.NewBook(name)
	for _, doc := range docs {
		e := &lore.Entry{}
		if err := json.Unmarshal(doc, e); err != nil {
			return nil, fmt.Errorf("lore store: load %q: %w: %v", name, lore.ErrInvalid, err)
		}
		b.Entries[e.UID] = e
	}
	return b, nil
}

// Save implements [lore.Store]. The book's entries are replaced in a single
// transaction.
func (s *Store) Save(ctx context.Context, name string, b *lore.Book) error {
	if !b.Valid() {
		return fmt.Errorf("lore store: save %q: %w", name, lore.ErrInvalid)
	}

	rows := make([][]any, 0, len(b.Entries))
	for _, uid := range b.UIDs() {
		e := *b.Entries[uid]
		e.UID = uid
		doc, err := json.Marshal(&e)
		if err != nil {
			return fmt.Errorf("lore store: encode %q/%d: %w", name, uid, err)
		}
		rows = append(rows, []any{name, uid, doc})
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO lore_books (name) VALUES ($1)
			ON CONFLICT (name) DO UPDATE SET updated_at = now()`, name); err != nil {
			return fmt.Errorf("lore store: save %q: %w", name, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM lore_entries WHERE book = $1`, name); err != nil {
			return fmt.Errorf("lore store: save %q: %w", name, err)
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"lore_entries"},
			[]string{"book", "uid", "doc"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("lore store: save %q entries: %w", name, err)
		}
		return nil
	})
}

// List implements [lore.Store].
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM lore_books ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("lore store: list: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("lore store: list: %w", err)
	}
	return names, nil
}

// DeleteBook removes a book and all its entries. Deleting a missing book
// returns [lore.ErrNotFound].
func (s *Store) DeleteBook(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM lore_books WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("lore store: delete %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("lore store: delete %q: %w", name, lore.ErrNotFound)
	}
	return nil
}

// isNoRows reports whether err is pgx's "no rows" sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
