package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/rememory/pkg/provider/llm"
	llmmock "github.com/MrWong99/rememory/pkg/provider/llm/mock"
	"github.com/MrWong99/rememory/pkg/types"
)

func TestLLMFallback_Complete_PrimarySuccess(t *testing.T) {
	primary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "hello from primary"},
	}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "hello from secondary"},
	}

	fb := NewLLMFallback("main", primary, CircuitBreakerConfig{MaxFailures: 3})
	fb.AddFallback("local", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello from primary" {
		t.Fatalf("content = %q, want 'hello from primary'", resp.Content)
	}
	if len(primary.Calls()) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.Calls()))
	}
	if len(secondary.Calls()) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.Calls()))
	}
}

func TestLLMFallback_Complete_Failover(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "hello from secondary"},
	}

	fb := NewLLMFallback("main", primary, CircuitBreakerConfig{MaxFailures: 3})
	fb.AddFallback("local", secondary)

	req := llm.CompletionRequest{Stop: []string{"\n"}}
	resp, err := fb.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello from secondary" {
		t.Fatalf("content = %q, want 'hello from secondary'", resp.Content)
	}
	if got := secondary.Calls()[0].Req.Stop; len(got) != 1 || got[0] != "\n" {
		t.Errorf("fallback request stop = %v", got)
	}
}

func TestLLMFallback_Complete_AllFail(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &llmmock.Provider{CompleteErr: errors.New("secondary down")}

	fb := NewLLMFallback("main", primary, CircuitBreakerConfig{MaxFailures: 3})
	fb.AddFallback("local", secondary)

	if _, err := fb.Complete(context.Background(), llm.CompletionRequest{}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if states := fb.States(); len(states) != 2 || states[0].Name != "main" {
		t.Errorf("states = %+v", states)
	}
}

func TestLLMFallback_PrimaryMetadata(t *testing.T) {
	primary := &llmmock.Provider{
		TokenCount:        42,
		ModelCapabilities: types.ModelCapabilities{ContextWindow: 8192},
	}
	secondary := &llmmock.Provider{
		TokenCount:        7,
		ModelCapabilities: types.ModelCapabilities{ContextWindow: 2048},
	}
	fb := NewLLMFallback("main", primary, CircuitBreakerConfig{})
	fb.AddFallback("local", secondary)

	n, err := fb.CountTokens(nil)
	if err != nil || n != 42 {
		t.Errorf("CountTokens = %d, %v; want 42", n, err)
	}
	if w := fb.Capabilities().ContextWindow; w != 8192 {
		t.Errorf("ContextWindow = %d, want 8192", w)
	}
}
