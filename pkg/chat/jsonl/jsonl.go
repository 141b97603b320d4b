// Package jsonl stores transcripts in the chat host's JSON Lines format: one
// file per chat, a header object on the first line and one message object
// per following line.
//
// Records are patched in place with github.com/tidwall/sjson rather than
// re-encoded, so host fields ReMemory does not model (swipes, generation
// metadata, extension data) survive a save. ReMemory's own markers ride in
// the host's free-form slots: extra.rmr_scene on messages and rmr_* keys in
// chat_metadata on the header.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/MrWong99/rememory/pkg/chat"
)

const ext = ".jsonl"

// maxLine bounds a single record; long role-play messages with swipes can be
// several hundred kilobytes.
const maxLine = 16 << 20

var _ chat.Store = (*Store)(nil)

// Store is a directory-backed [chat.Store].
type Store struct {
	dir string
	mu  sync.Mutex
}

// New returns a Store reading and writing "<dir>/<chat id>.jsonl".
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jsonl: create %q: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("jsonl: invalid chat id %q", id)
	}
	return filepath.Join(s.dir, id+ext), nil
}

// LoadChat implements [chat.Store].
func (s *Store) LoadChat(ctx context.Context, id string) (*chat.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("jsonl: load %q: %w", id, chat.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("jsonl: load %q: %w", id, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)

	c := &chat.Chat{ID: id}
	line := 0
	for sc.Scan() {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		if !gjson.ValidBytes(raw) {
			return nil, fmt.Errorf("jsonl: load %q: line %d is not valid JSON", id, line+1)
		}
		rec := bytes.Clone(raw)
		if line == 0 {
			decodeHeader(c, rec)
		} else {
			c.Turns = append(c.Turns, decodeTurn(rec))
		}
		line++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("jsonl: load %q: %w", id, err)
	}
	c.Renumber()
	return c, nil
}

func decodeHeader(c *chat.Chat, rec []byte) {
	h := gjson.ParseBytes(rec)
	c.Raw = rec
	c.UserName = h.Get("user_name").String()
	c.CharacterName = h.Get("character_name").String()
	c.CharacterID = c.CharacterName
	if v := h.Get("chat_metadata.rmr_character_id"); v.Exists() {
		c.CharacterID = v.String()
	}
	c.ChatBook = h.Get("chat_metadata.world_info").String()
	c.PersonaBook = h.Get("chat_metadata.rmr_persona_book").String()
	c.GroupID = h.Get("chat_metadata.rmr_group_id").String()
	for _, m := range h.Get("chat_metadata.rmr_group_members").Array() {
		c.GroupMembers = append(c.GroupMembers, m.String())
	}
	if c.GroupID != "" {
		c.CharacterID = ""
	}
}

func decodeTurn(rec []byte) chat.Turn {
	m := gjson.ParseBytes(rec)
	t := chat.Turn{
		Name:     m.Get("name").String(),
		Text:     m.Get("mes").String(),
		IsUser:   m.Get("is_user").Bool(),
		Hidden:   m.Get("is_system").Bool(),
		SceneEnd: m.Get("extra.rmr_scene").Bool(),
		Comment:  m.Get("extra.type").String() == "comment",
		Raw:      rec,
	}
	if ts, err := time.Parse(time.RFC3339, m.Get("send_date").String()); err == nil {
		t.SentAt = ts
	}
	return t
}

// SaveChat implements [chat.Store]. The file is replaced atomically.
func (s *Store) SaveChat(ctx context.Context, c *chat.Chat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(c.ID)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	header, err := encodeHeader(c)
	if err != nil {
		return fmt.Errorf("jsonl: encode %q header: %w", c.ID, err)
	}
	buf.Write(header)
	buf.WriteByte('\n')
	for i := range c.Turns {
		rec, err := encodeTurn(&c.Turns[i])
		if err != nil {
			return fmt.Errorf("jsonl: encode %q turn %d: %w", c.ID, i, err)
		}
		buf.Write(rec)
		buf.WriteByte('\n')
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+c.ID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("jsonl: save %q: %w", c.ID, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("jsonl: save %q: %w", c.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("jsonl: save %q: %w", c.ID, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("jsonl: save %q: %w", c.ID, err)
	}
	return nil
}

// field is one path/value patch. A nil value deletes the path.
type field struct {
	path  string
	value any
}

func patch(rec []byte, sets []field) ([]byte, error) {
	var err error
	for _, kv := range sets {
		path := kv.path
		if kv.value == nil {
			if gjson.GetBytes(rec, path).Exists() {
				if rec, err = sjson.DeleteBytes(rec, path); err != nil {
					return nil, err
				}
			}
			continue
		}
		if rec, err = sjson.SetBytes(rec, path, kv.value); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func orEmpty(rec []byte) []byte {
	if len(rec) == 0 {
		return []byte(`{}`)
	}
	return bytes.Clone(rec)
}

func encodeHeader(c *chat.Chat) ([]byte, error) {
	sets := []field{
		{"user_name", c.UserName},
		{"character_name", c.CharacterName},
	}
	if c.ChatBook != "" {
		sets = append(sets, field{"chat_metadata.world_info", c.ChatBook})
	} else {
		sets = append(sets, field{"chat_metadata.world_info", nil})
	}
	sets = append(sets, optional("chat_metadata.rmr_persona_book", c.PersonaBook))
	sets = append(sets, optional("chat_metadata.rmr_group_id", c.GroupID))
	if c.IsGroup() {
		sets = append(sets, field{"chat_metadata.rmr_group_members", c.GroupMembers})
	} else {
		sets = append(sets, field{"chat_metadata.rmr_group_members", nil})
	}
	if c.CharacterID != "" && c.CharacterID != c.CharacterName {
		sets = append(sets, field{"chat_metadata.rmr_character_id", c.CharacterID})
	}
	return patch(orEmpty(c.Raw), sets)
}

func optional(path, v string) field {
	if v == "" {
		return field{path, nil}
	}
	return field{path, v}
}

func encodeTurn(t *chat.Turn) ([]byte, error) {
	sets := []field{
		{"name", t.Name},
		{"is_user", t.IsUser},
		{"is_system", t.Hidden},
		{"mes", t.Text},
	}
	if t.SceneEnd {
		sets = append(sets, field{"extra.rmr_scene", true})
	} else {
		sets = append(sets, field{"extra.rmr_scene", nil})
	}
	if t.Comment {
		sets = append(sets, field{"extra.type", "comment"})
	}
	if len(t.Raw) == 0 && !t.SentAt.IsZero() {
		sets = append(sets, field{"send_date", t.SentAt.Format(time.RFC3339)})
	}
	return patch(orEmpty(t.Raw), sets)
}
