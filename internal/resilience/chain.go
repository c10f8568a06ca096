package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned by [Try] when every link in a [Chain] either
// failed or was skipped because its breaker is open.
var ErrAllFailed = errors.New("resilience: all providers failed")

// ChainConfig configures a [Chain]. The Breaker template is cloned for
// every link, so each link trips independently.
type ChainConfig struct {
	Breaker BreakerConfig

	// Logger receives failover events and is handed to each link's
	// breaker unless the Breaker template names its own. Default:
	// slog.Default().
	Logger *slog.Logger
}

// link pairs one provider with the breaker that guards it.
type link[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain holds a primary provider and its fallbacks in try order. Calls
// go to the first link whose breaker admits them; a failing link passes
// the call down the chain. Add every link before the first [Try]; Try
// itself may then run concurrently.
type Chain[T any] struct {
	links []link[T]
	cfg   ChainConfig
	log   *slog.Logger
}

// NewChain creates a [Chain] with primary as its first link.
func NewChain[T any](primary T, name string, cfg ChainConfig) *Chain[T] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Chain[T]{cfg: cfg, log: cfg.Logger}
	c.add(name, primary)
	return c
}

// AddFallback appends a link tried after all earlier ones.
func (c *Chain[T]) AddFallback(name string, value T) {
	c.add(name, value)
}

func (c *Chain[T]) add(name string, value T) {
	bc := c.cfg.Breaker
	bc.Name = name
	if bc.Logger == nil {
		bc.Logger = c.log
	}
	c.links = append(c.links, link[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(bc),
	})
}

// Names returns the link names in try order.
func (c *Chain[T]) Names() []string {
	names := make([]string, len(c.links))
	for i := range c.links {
		names[i] = c.links[i].name
	}
	return names
}

// Try runs fn against each link of the chain until one succeeds and
// returns the result together with the name of the link that served it.
// Links with open breakers are skipped. When every link fails, the last
// error is wrapped in [ErrAllFailed]. Try is a package-level function
// because methods cannot introduce type parameters.
func Try[T, R any](c *Chain[T], fn func(T) (R, error)) (R, string, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range c.links {
		l := &c.links[i]
		var result R
		err := l.breaker.Do(func() error {
			var callErr error
			result, callErr = fn(l.value)
			return callErr
		})
		if err == nil {
			return result, l.name, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			c.log.Debug("provider skipped, breaker open", "provider", l.name)
		} else {
			c.log.Warn("provider call failed", "provider", l.name, "error", err)
		}
	}
	return zero, "", fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
