// Package chat models the host transcript that ReMemory reads from and
// annotates.
//
// A [Chat] is an ordered list of [Turn]s plus the participant roster and the
// lore books bound to the chat or its persona. ReMemory only flips the hidden
// and scene-end flags and inserts comment turns; everything else belongs to
// the host.
package chat

import (
	"slices"
	"time"
)

// CommentName is the speaker name used for inserted comment turns.
const CommentName = "Note"

// Turn is one message in a transcript.
type Turn struct {
	// Index is the turn's position in Chat.Turns. Kept in sync by [Chat.Renumber].
	Index int

	// Name is the speaker's display name.
	Name string

	// Text is the raw message text.
	Text string

	// IsUser is true for turns written by the user persona.
	IsUser bool

	// Hidden turns are excluded from prompts and from summaries.
	Hidden bool

	// SceneEnd marks that summarization covered the transcript up to and
	// including this turn.
	SceneEnd bool

	// Comment is true for notes inserted by ReMemory or the user rather than
	// spoken by a participant.
	Comment bool

	// SentAt is when the turn was written. Zero if unknown.
	SentAt time.Time

	// Raw is the host record this turn was decoded from, if any. Stores that
	// round-trip a host format patch it instead of rewriting it, so fields
	// ReMemory does not model survive a save.
	Raw []byte
}

// Chat is a transcript together with its participants.
type Chat struct {
	// ID identifies the chat in its [Store].
	ID string

	// UserName is the user persona's name.
	UserName string

	// CharacterID identifies the character in a one-on-one chat. Empty in
	// group chats.
	CharacterID string

	// CharacterName is the display name of CharacterID.
	CharacterName string

	// GroupID is set for group chats.
	GroupID string

	// GroupMembers lists the member character IDs of a group chat.
	GroupMembers []string

	// ChatBook is the lore book bound to this chat, if any.
	ChatBook string

	// PersonaBook is the lore book bound to the user persona, if any.
	PersonaBook string

	Turns []Turn

	// Raw is the host's chat header record, if any. See [Turn.Raw].
	Raw []byte
}

// IsGroup reports whether the chat is a group chat.
func (c *Chat) IsGroup() bool {
	return c.GroupID != ""
}

// Participants returns the names that identify speakers in this chat: the
// user persona, the character in a one-on-one chat, and every group member in
// a group chat.
func (c *Chat) Participants() []string {
	names := []string{c.UserName}
	if c.CharacterID != "" && c.CharacterName != "" {
		names = append(names, c.CharacterName)
	}
	if c.IsGroup() {
		names = append(names, c.GroupMembers...)
	}
	return names
}

// Turn returns a pointer to the turn at index, or nil when out of range.
func (c *Chat) Turn(index int) *Turn {
	if index < 0 || index >= len(c.Turns) {
		return nil
	}
	return &c.Turns[index]
}

// LastSceneEnd returns the index of the most recent turn at or before index
// that carries a scene-end flag, or -1 if there is none.
func (c *Chat) LastSceneEnd(index int) int {
	if index >= len(c.Turns) {
		index = len(c.Turns) - 1
	}
	for i := index; i >= 0; i-- {
		if c.Turns[i].SceneEnd {
			return i
		}
	}
	return -1
}

// InsertComment inserts a hidden comment turn at position at and renumbers the
// turns that follow. Positions past the end append.
func (c *Chat) InsertComment(at int, text string) *Turn {
	at = max(0, min(at, len(c.Turns)))
	t := Turn{
		Name:    CommentName,
		Text:    text,
		Hidden:  true,
		Comment: true,
		SentAt:  time.Now(),
	}
	c.Turns = slices.Insert(c.Turns, at, t)
	c.Renumber()
	return &c.Turns[at]
}

// Renumber resets every Turn.Index to its slice position.
func (c *Chat) Renumber() {
	for i := range c.Turns {
		c.Turns[i].Index = i
	}
}

// Clone returns a deep copy of the chat.
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	out := *c
	out.GroupMembers = slices.Clone(c.GroupMembers)
	out.Turns = slices.Clone(c.Turns)
	return &out
}
