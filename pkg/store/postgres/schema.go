// Package postgres provides a PostgreSQL-backed implementation of both
// [lore.Store] and [chat.Store] for multi-user deployments where books and
// transcripts are not kept on a local disk.
//
// Books are stored entry by entry as JSONB documents in the host's world-info
// shape; transcripts are stored turn by turn. Both share a single
// [pgxpool.Pool]. [Migrate] creates the schema on start.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	book, _ := store.Load(ctx, "Bram")
//	c, _ := store.LoadChat(ctx, chatID)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Lore books
// ─────────────────────────────────────────────────────────────────────────────

const ddlLore = `
CREATE TABLE IF NOT EXISTS lore_books (
    name        TEXT         PRIMARY KEY,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS lore_entries (
    book  TEXT   NOT NULL REFERENCES lore_books (name) ON DELETE CASCADE,
    uid   INT    NOT NULL,
    doc   JSONB  NOT NULL,
    PRIMARY KEY (book, uid)
);

CREATE INDEX IF NOT EXISTS idx_lore_entries_fade
    ON lore_entries (book)
    WHERE (doc->>'rmr_fade')::boolean;
`

// ─────────────────────────────────────────────────────────────────────────────
// Transcripts
// ─────────────────────────────────────────────────────────────────────────────

const ddlChats = `
CREATE TABLE IF NOT EXISTS chats (
    id              TEXT         PRIMARY KEY,
    user_name       TEXT         NOT NULL DEFAULT '',
    character_id    TEXT         NOT NULL DEFAULT '',
    character_name  TEXT         NOT NULL DEFAULT '',
    group_id        TEXT         NOT NULL DEFAULT '',
    group_members   TEXT[]       NOT NULL DEFAULT '{}',
    chat_book       TEXT         NOT NULL DEFAULT '',
    persona_book    TEXT         NOT NULL DEFAULT '',
    updated_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chat_turns (
    chat_id    TEXT         NOT NULL REFERENCES chats (id) ON DELETE CASCADE,
    idx        INT          NOT NULL,
    name       TEXT         NOT NULL DEFAULT '',
    text       TEXT         NOT NULL,
    is_user    BOOLEAN      NOT NULL DEFAULT false,
    hidden     BOOLEAN      NOT NULL DEFAULT false,
    scene_end  BOOLEAN      NOT NULL DEFAULT false,
    comment    BOOLEAN      NOT NULL DEFAULT false,
    sent_at    TIMESTAMPTZ,
    PRIMARY KEY (chat_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_chat_turns_scene_end
    ON chat_turns (chat_id, idx)
    WHERE scene_end;
`

// Migrate creates or ensures all required tables exist. It is idempotent and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlLore, ddlChats} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
