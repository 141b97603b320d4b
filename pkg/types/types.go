// Package types defines the shared types used across ReMemory packages.
//
// These types are the common vocabulary between completion providers and the
// memory pipeline. Domain packages (chat, lore) own their own records; only
// structures that cross provider boundaries live here to avoid import cycles.
package types

// Message represents a single message sent to a completion backend.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string
}

// ModelCapabilities describes what a completion model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output. The chunker
	// derives its per-chunk budget from this value when no explicit max context
	// is configured.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsStop reports whether the backend honours stop sequences natively.
	// Providers that do not are expected to truncate the result themselves.
	SupportsStop bool
}
