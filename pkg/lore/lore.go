// Package lore models world-info books: keyed collections of entries that the
// chat host injects into future prompts when their trigger conditions match.
//
// ReMemory does not own these documents. It loads a book, appends or edits
// entries, and saves it back. The JSON shape of [Entry] mirrors the fields
// ReMemory reads; stores that keep [Book.Raw] patch the host document so
// fields outside that set survive. The only ReMemory-specific
// field is [Entry.Fade] (rmr_fade), which marks popup memories for decay.
package lore

import (
	"maps"
	"slices"
)

// Insertion positions understood by the host.
const (
	PositionBeforeChar = 0
	PositionAfterChar  = 1
	PositionANTop      = 2
	PositionANBottom   = 3
	PositionAtDepth    = 4
)

// Message roles for entries inserted at depth.
const (
	RoleSystem    = 0
	RoleUser      = 1
	RoleAssistant = 2
)

// MemoryGroup is the inclusion group shared by all memory entries, so that a
// triggered keyword memory outscores its popup twin.
const MemoryGroup = "memory"

// Entry is a single world-info record.
type Entry struct {
	UID           int      `json:"uid"`
	Keys          []string `json:"key"`
	SecondaryKeys []string `json:"keysecondary"`
	// Title is stored as "comment" by the host.
	Title           string `json:"comment"`
	Content         string `json:"content"`
	Constant        bool   `json:"constant"`
	Selective       bool   `json:"selective"`
	Order           int    `json:"order"`
	Position        int    `json:"position"`
	Role            int    `json:"role"`
	Depth           int    `json:"depth"`
	Group           string `json:"group"`
	GroupOverride   bool   `json:"groupOverride"`
	GroupWeight     int    `json:"groupWeight"`
	UseGroupScoring bool   `json:"useGroupScoring"`
	// Sticky is the number of messages the entry stays active once triggered.
	Sticky         int  `json:"sticky"`
	Cooldown       int  `json:"cooldown"`
	Delay          int  `json:"delay"`
	Probability    int  `json:"probability"`
	UseProbability bool `json:"useProbability"`
	Disable        bool `json:"disable"`
	AddMemo        bool `json:"addMemo"`
	// Fade marks a popup memory whose probability decays on every fade sweep.
	Fade bool `json:"rmr_fade,omitempty"`
}

// Book is a named world-info document.
type Book struct {
	// Name is the book's identifier in the store. It is not serialised.
	Name    string         `json:"-"`
	Entries map[int]*Entry `json:"entries"`

	// Raw is the host document the book was decoded from, if any.
	Raw []byte `json:"-"`
}

// NewBook returns an empty, valid book.
func NewBook(name string) *Book {
	return &Book{Name: name, Entries: make(map[int]*Entry)}
}

// Valid reports whether the book has an entries collection.
func (b *Book) Valid() bool {
	return b != nil && b.Entries != nil
}

// NewEntry creates an entry with the host's defaults, registers it under the
// lowest free uid and returns it for the caller to fill in.
func (b *Book) NewEntry() *Entry {
	uid := 0
	for {
		if _, taken := b.Entries[uid]; !taken {
			break
		}
		uid++
	}
	e := &Entry{
		UID:            uid,
		Keys:           []string{},
		SecondaryKeys:  []string{},
		Order:          100,
		Position:       PositionBeforeChar,
		Depth:          4,
		GroupWeight:    100,
		Probability:    100,
		UseProbability: true,
		AddMemo:        true,
	}
	b.Entries[uid] = e
	return e
}

// Delete removes the entry with the given uid.
func (b *Book) Delete(uid int) {
	delete(b.Entries, uid)
}

// UIDs returns the entry uids in ascending order.
func (b *Book) UIDs() []int {
	return slices.Sorted(maps.Keys(b.Entries))
}

// Clone returns a deep copy of the book.
func (b *Book) Clone() *Book {
	if b == nil {
		return nil
	}
	out := &Book{Name: b.Name, Raw: slices.Clone(b.Raw)}
	if b.Entries == nil {
		return out
	}
	out.Entries = make(map[int]*Entry, len(b.Entries))
	for uid, e := range b.Entries {
		c := *e
		c.Keys = slices.Clone(e.Keys)
		c.SecondaryKeys = slices.Clone(e.SecondaryKeys)
		out.Entries[uid] = &c
	}
	return out
}
