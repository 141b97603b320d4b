package resilience

import (
	"context"

	"github.com/MrWong99/rememory/pkg/provider/llm"
	"github.com/MrWong99/rememory/pkg/types"
)

// LLMFallback is the [llm.Provider] of a connection profile: its own backend
// first, then the backends of its fallback profiles.
type LLMFallback struct {
	group *Group[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback returns a provider that prefers primary.
func NewLLMFallback(name string, primary llm.Provider, cfg CircuitBreakerConfig) *LLMFallback {
	return &LLMFallback{group: NewGroup(name, primary, cfg)}
}

// AddFallback appends the backend of a fallback profile.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.Add(name, p)
}

// States reports the breaker state of every backend.
func (f *LLMFallback) States() []MemberState { return f.group.States() }

// Complete implements [llm.Provider].
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Do(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens implements [llm.Provider] using the primary backend.
func (f *LLMFallback) CountTokens(messages []types.Message) (int, error) {
	return f.group.Primary().CountTokens(messages)
}

// Capabilities implements [llm.Provider]. Chunk budgets follow the primary
// backend's context window.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	return f.group.Primary().Capabilities()
}
