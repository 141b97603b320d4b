// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the prompts the pipeline sends and to
// feed controlled replies without a live backend. Replies are taken from
// Script in order; once the script is exhausted CompleteResponse and
// CompleteErr are returned for every further call.
//
// Example:
//
//	p := &mock.Provider{Script: []mock.Reply{
//	    {Content: "chunk one"},
//	    {Err: errors.New("timeout")},
//	    {Content: "final"},
//	}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/rememory/pkg/provider/llm"
	"github.com/MrWong99/rememory/pkg/types"
)

// Reply is one scripted outcome of Complete.
type Reply struct {
	// Content is returned as CompletionResponse.Content when Err is nil.
	Content string

	// Err, if non-nil, is returned instead of a response.
	Err error
}

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Prompt returns the content of the last message in the recorded request.
func (c CompleteCall) Prompt() string {
	if len(c.Req.Messages) == 0 {
		return ""
	}
	return c.Req.Messages[len(c.Req.Messages)-1].Content
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Script is consumed front to back, one Reply per Complete call.
	Script []Reply

	// CompleteFunc, if set, takes precedence over Script and the static
	// fields.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// CompleteResponse is returned by Complete once Script is exhausted. May
	// be nil (returns nil, CompleteErr).
	CompleteResponse *llm.CompletionResponse

	// CompleteErr is returned by Complete once Script is exhausted.
	CompleteErr error

	// TokenCount is returned by CountTokens.
	TokenCount int

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities types.ModelCapabilities

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall

	next int
}

// Complete records the call and returns the next scripted reply.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn := p.CompleteFunc
	if fn == nil && p.next < len(p.Script) {
		r := p.Script[p.next]
		p.next++
		p.mu.Unlock()
		if r.Err != nil {
			return nil, r.Err
		}
		return &llm.CompletionResponse{Content: llm.TruncateAtStop(r.Content, req.Stop)}, nil
	}
	resp, err := p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

// CountTokens returns TokenCount.
func (p *Provider) CountTokens(_ []types.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.TokenCount, nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() types.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Calls returns a copy of the recorded Complete calls. Thread-safe.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CompleteCall, len(p.CompleteCalls))
	copy(out, p.CompleteCalls)
	return out
}

// Reset clears all recorded calls and rewinds Script. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
	p.next = 0
}

var _ llm.Provider = (*Provider)(nil)
