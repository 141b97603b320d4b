// Package jsondir stores world-info books as JSON files in a directory, one
// file per book named "<book>.json", in the same layout the chat host uses
// for its worlds folder.
//
// Books loaded from disk are saved by patching the original document with
// github.com/tidwall/sjson: only entries that were created, changed or
// removed are touched, and every host field ReMemory does not model is kept.
package jsondir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/MrWong99/rememory/pkg/lore"
)

const ext = ".json"

var _ lore.Store = (*Store)(nil)

// Store is a directory-backed [lore.Store].
type Store struct {
	dir string
	mu  sync.Mutex
}

// New returns a Store rooted at dir. The directory is created if missing.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jsondir: create %q: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("jsondir: invalid book name %q", name)
	}
	return filepath.Join(s.dir, name+ext), nil
}

// Load implements [lore.Store].
func (s *Store) Load(ctx context.Context, name string) (*lore.Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("jsondir: load %q: %w", name, lore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("jsondir: load %q: %w", name, err)
	}

	b := &lore.Book{}
	if err := json.Unmarshal(raw, b); err != nil {
		return nil, fmt.Errorf("jsondir: load %q: %w: %v", name, lore.ErrInvalid, err)
	}
	if !b.Valid() {
		return nil, fmt.Errorf("jsondir: load %q: %w", name, lore.ErrInvalid)
	}
	b.Name = name
	b.Raw = raw
	return b, nil
}

// Save implements [lore.Store]. The file is replaced atomically.
func (s *Store) Save(ctx context.Context, name string, b *lore.Book) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.Valid() {
		return fmt.Errorf("jsondir: save %q: %w", name, lore.ErrInvalid)
	}
	p, err := s.path(name)
	if err != nil {
		return err
	}
	raw, err := encode(b)
	if err != nil {
		return fmt.Errorf("jsondir: encode %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("jsondir: save %q: %w", name, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("jsondir: save %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("jsondir: save %q: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("jsondir: save %q: %w", name, err)
	}
	return nil
}

// encode renders b for disk. A book without a host document is written
// fresh; otherwise the host document is patched entry by entry.
func encode(b *lore.Book) ([]byte, error) {
	if len(b.Raw) == 0 || !gjson.GetBytes(b.Raw, "entries").IsObject() {
		return json.MarshalIndent(b, "", "    ")
	}
	doc := slices.Clone(b.Raw)
	var err error

	var stale []string
	gjson.GetBytes(doc, "entries").ForEach(func(k, _ gjson.Result) bool {
		uid, convErr := strconv.Atoi(k.String())
		if _, ok := b.Entries[uid]; convErr != nil || !ok {
			stale = append(stale, k.String())
		}
		return true
	})
	for _, k := range stale {
		if doc, err = sjson.DeleteBytes(doc, "entries.:"+k); err != nil {
			return nil, err
		}
	}

	for _, uid := range b.UIDs() {
		key := strconv.Itoa(uid)
		prev := gjson.GetBytes(doc, "entries."+key)
		rec, err := patchEntry(prev, b.Entries[uid])
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		if doc, err = sjson.SetRawBytes(doc, "entries.:"+key, rec); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// patchEntry overlays e onto the host record prev. It returns nil when prev
// already holds the same values.
func patchEntry(prev gjson.Result, e *lore.Entry) ([]byte, error) {
	enc, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	if !prev.IsObject() {
		return enc, nil
	}
	var old lore.Entry
	if err := json.Unmarshal([]byte(prev.Raw), &old); err == nil {
		if oldEnc, err := json.Marshal(&old); err == nil && string(oldEnc) == string(enc) {
			return nil, nil
		}
	}

	rec := []byte(prev.Raw)
	gjson.ParseBytes(enc).ForEach(func(k, v gjson.Result) bool {
		rec, err = sjson.SetRawBytes(rec, k.String(), []byte(v.Raw))
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	if !e.Fade && gjson.GetBytes(rec, "rmr_fade").Exists() {
		if rec, err = sjson.DeleteBytes(rec, "rmr_fade"); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// List implements [lore.Store].
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("jsondir: list: %w", err)
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || !strings.HasSuffix(n, ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(n, ext))
	}
	slices.Sort(names)
	return names, nil
}
