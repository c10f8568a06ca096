package resilience

import (
	"context"
	"log/slog"

	"github.com/tubescribe/tubescribe/pkg/provider/llm"
)

// LLMChain is an [llm.Provider] that fails over across several LLM
// backends. Each backend sits behind its own [Breaker], so a summary
// request skips a model that has been timing out and lands on the next
// configured one instead.
type LLMChain struct {
	chain *Chain[llm.Provider]
	log   *slog.Logger
}

var _ llm.Provider = (*LLMChain)(nil)

// NewLLMChain builds a chain with primary as the preferred backend.
// name labels the primary in logs; "provider/model" keeps entries
// distinct when one backend appears twice with different models.
func NewLLMChain(primary llm.Provider, name string, cfg ChainConfig) *LLMChain {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LLMChain{
		chain: NewChain(primary, name, cfg),
		log:   cfg.Logger,
	}
}

// AddFallback registers another backend, tried after all earlier ones.
func (c *LLMChain) AddFallback(name string, provider llm.Provider) {
	c.chain.AddFallback(name, provider)
}

// Name identifies the preferred backend. The entry that actually served
// a completion changes under failover and is logged per call.
func (c *LLMChain) Name() string {
	return c.chain.links[0].name
}

// Complete forwards the request to the first healthy backend.
func (c *LLMChain) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, served, err := Try(c.chain, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if served != c.Name() {
		c.log.Info("summary served by fallback model", "provider", served)
	}
	return resp, nil
}
