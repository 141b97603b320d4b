// Package memory writes memory entries into lore books and decays popup
// memories.
//
// Every memory event produces a keyword-triggered entry. With popups enabled
// it also produces a constant "popup" twin with the same content, a lower
// probability and the fade marker; [Manager.FadeAll] lowers that
// probability on every sweep and deletes the entry once it reaches zero.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MrWong99/rememory/internal/observe"
	"github.com/MrWong99/rememory/pkg/chat"
	"github.com/MrWong99/rememory/pkg/lore"
)

// ErrInvalidBook is returned when a book cannot be loaded or has no entries
// collection.
var ErrInvalidBook = errors.New("memory: book missing or invalid")

// ChatKey is the active-book key of the chat-bound book.
const ChatKey = "Chat"

// TitleLayout formats the default entry title.
const TitleLayout = "2006-01-02 15:04"

// Memory describes the entries to create for one memory event.
type Memory struct {
	Content  string
	Keywords []string

	// Title overrides the default "memory <timestamp>" title. The popup
	// entry appends " POPUP".
	Title string

	// Popup adds the constant fading twin.
	Popup bool

	Role       int
	Depth      int
	Life       int
	TriggerPct int
	PopupPct   int
}

// Manager creates and fades memory entries.
type Manager struct {
	Books  lore.Store
	Editor lore.Editor

	// Metrics records entry and fade counts. Nil disables recording.
	Metrics *observe.Metrics

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Manager) refresh(ctx context.Context, book string) {
	if m.Editor != nil {
		m.Editor.Refresh(ctx, book)
	}
}

// CreateEntry appends the entries for mem to book and saves it. It returns
// the created entries, keyword entry first.
func (m *Manager) CreateEntry(ctx context.Context, book string, mem Memory) ([]*lore.Entry, error) {
	b, err := m.Books.Load(ctx, book)
	if err == nil && !b.Valid() {
		err = lore.ErrInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidBook, book, err)
	}

	title := mem.Title
	if title == "" {
		title = "memory " + m.now().Format(TitleLayout)
	}

	entry := b.NewEntry()
	fill(entry, mem, title)
	entry.Keys = slices.Clone(mem.Keywords)
	entry.Probability = mem.TriggerPct
	created := []*lore.Entry{entry}

	if mem.Popup {
		popup := b.NewEntry()
		fill(popup, mem, title+" POPUP")
		popup.Constant = true
		popup.Probability = mem.PopupPct
		popup.Fade = true
		created = append(created, popup)
	}

	if err := m.Books.Save(ctx, book, b); err != nil {
		return nil, fmt.Errorf("memory: save %q: %w", book, err)
	}
	m.refresh(ctx, book)

	if m.Metrics != nil {
		m.Metrics.RecordEntries(ctx, "keyword", 1)
		if mem.Popup {
			m.Metrics.RecordEntries(ctx, "popup", 1)
		}
	}
	observe.Logger(ctx).Info("memory: entries created", "book", book, "count", len(created), "uid", entry.UID)
	return created, nil
}

func fill(e *lore.Entry, mem Memory, title string) {
	e.Content = mem.Content
	e.AddMemo = true
	e.Title = title
	e.Position = lore.PositionAtDepth
	e.Role = mem.Role
	e.Depth = mem.Depth
	e.Group = lore.MemoryGroup
	e.UseGroupScoring = true
	e.Sticky = mem.Life
}

// ─────────────────────────────────────────────────────────────────────────────
// Active books
// ─────────────────────────────────────────────────────────────────────────────

// ActiveBook is a book bound to the current chat under a display key.
type ActiveBook struct {
	// Key names the binding: [ChatKey], the persona name, or a character id.
	Key  string
	Book string
}

// ActiveBooks resolves the books bound to c: the chat book, the persona
// book, the character's assigned book and every other group member's
// assigned book. assignments maps character ids to book names.
func ActiveBooks(c *chat.Chat, assignments map[string]string) []ActiveBook {
	var out []ActiveBook
	add := func(key, book string) {
		if book == "" {
			return
		}
		for i := range out {
			if out[i].Key == key {
				out[i].Book = book
				return
			}
		}
		out = append(out, ActiveBook{Key: key, Book: book})
	}

	add(ChatKey, c.ChatBook)
	if c.UserName != "" {
		add(c.UserName, c.PersonaBook)
	}
	if c.CharacterID != "" {
		add(c.CharacterID, assignments[c.CharacterID])
	}
	if c.IsGroup() {
		for _, member := range c.GroupMembers {
			if member != c.CharacterID {
				add(member, assignments[member])
			}
		}
	}
	return out
}

// Keys returns the keys of books in order.
func Keys(books []ActiveBook) []string {
	out := make([]string, len(books))
	for i, b := range books {
		out[i] = b.Key
	}
	return out
}

// Lookup returns the book bound under key.
func Lookup(books []ActiveBook, key string) (string, bool) {
	for _, b := range books {
		if b.Key == key {
			return b.Book, true
		}
	}
	return "", false
}

// ─────────────────────────────────────────────────────────────────────────────
// Fade
// ─────────────────────────────────────────────────────────────────────────────

// FadeResult counts the effect of one sweep.
type FadeResult struct {
	// Faded is the number of fading entries processed, removed ones
	// included.
	Faded int

	// Purged is the number of entries removed.
	Purged int

	// Books is the number of books swept.
	Books int
}

// FadeAll lowers the probability of every fading entry in the active books
// by step and removes entries whose probability drops to zero or below.
// When key is non-empty only the book bound under key is swept; an unknown
// key sweeps nothing. A book bound under several keys is swept once.
//
// Books that fail to load are skipped. Save failures are collected and
// returned after the sweep completes.
func (m *Manager) FadeAll(ctx context.Context, active []ActiveBook, key string, step int) (FadeResult, error) {
	var names []string
	if key != "" {
		book, ok := Lookup(active, key)
		if !ok {
			return FadeResult{}, nil
		}
		names = []string{book}
	} else {
		for _, b := range active {
			if !slices.Contains(names, b.Book) {
				names = append(names, b.Book)
			}
		}
	}

	log := observe.Logger(ctx)
	res := FadeResult{Books: len(names)}
	var errs []error
	for _, name := range names {
		b, err := m.Books.Load(ctx, name)
		if err != nil || !b.Valid() {
			log.Warn("memory: fade skipped book", "book", name, "err", err)
			continue
		}
		faded, purged := Fade(b, step)
		if faded == 0 {
			continue
		}
		res.Faded += faded
		res.Purged += purged
		if err := m.Books.Save(ctx, name, b); err != nil {
			errs = append(errs, fmt.Errorf("memory: save %q: %w", name, err))
			continue
		}
		m.refresh(ctx, name)
	}

	if m.Metrics != nil {
		m.Metrics.RecordFade(ctx, res.Faded, res.Purged)
	}
	log.Info("memory: fade sweep", "books", res.Books, "faded", res.Faded, "purged", res.Purged)
	return res, errors.Join(errs...)
}

// Fade applies one sweep to b in place and returns how many fading entries
// it processed and how many it removed. Entries without the fade marker are
// left alone.
func Fade(b *lore.Book, step int) (faded, purged int) {
	for _, uid := range b.UIDs() {
		e := b.Entries[uid]
		if !e.Fade {
			continue
		}
		faded++
		if p := e.Probability - step; p > 0 {
			e.Probability = p
			continue
		}
		b.Delete(uid)
		purged++
	}
	return faded, purged
}

// FadeNotice renders the summary shown after a sweep.
func FadeNotice(r FadeResult) string {
	return fmt.Sprintf("Faded %d \"pop-up\" memories across %d book(s); %d were removed.", r.Faded, r.Books, r.Purged)
}
