package llm

import (
	"strings"

	"github.com/MrWong99/rememory/pkg/types"
)

// modelFamily maps a model name prefix (or substring, when contains is set) to
// its context limits. Entries are checked in order; more specific prefixes
// must precede broader ones.
type modelFamily struct {
	match     string
	contains  bool
	context   int
	maxOutput int
}

var knownModels = []modelFamily{
	// ── OpenAI ───────────────────────────────────────────────────────────────
	{match: "gpt-4o-mini", context: 128_000, maxOutput: 16_384},
	{match: "gpt-4o", context: 128_000, maxOutput: 16_384},
	{match: "gpt-4.1", context: 1_047_576, maxOutput: 32_768},
	{match: "gpt-4-turbo", context: 128_000, maxOutput: 4_096},
	{match: "gpt-4", context: 8_192, maxOutput: 4_096},
	{match: "gpt-3.5-turbo", context: 16_385, maxOutput: 4_096},
	{match: "o1-mini", context: 128_000, maxOutput: 65_536},
	{match: "o1", context: 200_000, maxOutput: 100_000},
	{match: "o3-mini", context: 200_000, maxOutput: 100_000},
	{match: "o3", context: 200_000, maxOutput: 100_000},

	// ── Anthropic ────────────────────────────────────────────────────────────
	{match: "claude-3-opus", contains: true, context: 200_000, maxOutput: 4_096},
	{match: "claude", context: 200_000, maxOutput: 8_192},

	// ── Google ───────────────────────────────────────────────────────────────
	{match: "gemini-1.5-pro", contains: true, context: 2_097_152, maxOutput: 8_192},
	{match: "gemini-1.5-flash", contains: true, context: 1_048_576, maxOutput: 8_192},
	{match: "gemini-2", contains: true, context: 1_048_576, maxOutput: 8_192},
	{match: "gemini", context: 128_000, maxOutput: 8_192},

	// ── Local / open-weight ──────────────────────────────────────────────────
	{match: "deepseek", context: 64_000, maxOutput: 8_192},
	{match: "mistral", contains: true, context: 32_000, maxOutput: 8_192},
	{match: "llama", contains: true, context: 8_192, maxOutput: 2_048},
}

// defaultContextWindow is assumed for models not listed in knownModels.
const defaultContextWindow = 8_192

// KnownModelCapabilities returns the context limits for a model name. Matching
// is case-insensitive. Unknown models get an 8k context window.
func KnownModelCapabilities(model string) types.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, f := range knownModels {
		if (f.contains && strings.Contains(lower, f.match)) || strings.HasPrefix(lower, f.match) {
			return types.ModelCapabilities{ContextWindow: f.context, MaxOutputTokens: f.maxOutput}
		}
	}
	return types.ModelCapabilities{ContextWindow: defaultContextWindow, MaxOutputTokens: 2_048}
}
