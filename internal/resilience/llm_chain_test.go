package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/tubescribe/tubescribe/pkg/provider/llm"
	llmmock "github.com/tubescribe/tubescribe/pkg/provider/llm/mock"
)

func TestLLMChainCompletePrimarySuccess(t *testing.T) {
	primary := &llmmock.Provider{
		Response: &llm.CompletionResponse{Content: "summary from primary"},
	}
	secondary := &llmmock.Provider{
		Response: &llm.CompletionResponse{Content: "summary from secondary"},
	}

	chain := NewLLMChain(primary, "openai/gpt-4o-mini", ChainConfig{
		Breaker: BreakerConfig{TripAfter: 3},
	})
	chain.AddFallback("ollama/llama3.2", secondary)

	resp, err := chain.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete() = %v, want nil", err)
	}
	if resp.Content != "summary from primary" {
		t.Fatalf("Content = %q, want %q", resp.Content, "summary from primary")
	}
	if primary.CallCount() != 1 {
		t.Fatalf("primary called %d times, want 1", primary.CallCount())
	}
	if secondary.CallCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.CallCount())
	}
}

func TestLLMChainCompleteFailsOver(t *testing.T) {
	primary := &llmmock.Provider{
		Err: errors.New("rate limited"),
	}
	secondary := &llmmock.Provider{
		Response: &llm.CompletionResponse{Content: "summary from secondary"},
	}

	chain := NewLLMChain(primary, "openai/gpt-4o-mini", ChainConfig{
		Breaker: BreakerConfig{TripAfter: 3},
	})
	chain.AddFallback("ollama/llama3.2", secondary)

	resp, err := chain.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete() = %v, want nil", err)
	}
	if resp.Content != "summary from secondary" {
		t.Fatalf("Content = %q, want %q", resp.Content, "summary from secondary")
	}
	if primary.CallCount() != 1 {
		t.Fatalf("primary called %d times, want 1", primary.CallCount())
	}
}

func TestLLMChainCompleteAllFail(t *testing.T) {
	primary := &llmmock.Provider{Err: errors.New("rate limited")}
	secondary := &llmmock.Provider{Err: errors.New("connection refused")}

	chain := NewLLMChain(primary, "openai/gpt-4o-mini", ChainConfig{
		Breaker: BreakerConfig{TripAfter: 3},
	})
	chain.AddFallback("ollama/llama3.2", secondary)

	_, err := chain.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("Complete() = %v, want ErrAllFailed", err)
	}
}

func TestLLMChainName(t *testing.T) {
	chain := NewLLMChain(&llmmock.Provider{}, "openai/gpt-4o-mini", ChainConfig{})
	chain.AddFallback("ollama/llama3.2", &llmmock.Provider{})

	if got := chain.Name(); got != "openai/gpt-4o-mini" {
		t.Fatalf("Name() = %q, want the primary's label", got)
	}
}
