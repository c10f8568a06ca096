// Package resilience provides failover primitives for outbound provider
// calls: a three-state circuit [Breaker] and a [Chain] that tries a
// primary and its fallbacks in order, skipping links whose breaker is
// open. LLMChain adapts a Chain to the LLM provider interface used by
// the summary layer.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker is open
// and its cool-down has not yet elapsed.
var ErrBreakerOpen = errors.New("resilience: breaker open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrBreakerOpen] until the
	// cool-down elapses.
	StateOpen

	// StateHalfOpen admits a limited number of probe calls. Enough
	// successes close the breaker; a single failure re-opens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero-value fields select their
// defaults.
type BreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// TripAfter is the number of consecutive failures that opens the
	// breaker. Default: 5.
	TripAfter int

	// CoolDown is how long the breaker stays open before admitting
	// probe calls. Default: 30s.
	CoolDown time.Duration

	// Probes is the number of successful probe calls required to close
	// a half-open breaker. Default: 3.
	Probes int

	// Logger receives state-transition events. Default: slog.Default().
	Logger *slog.Logger
}

// Breaker cuts calls to a backend after repeated failures and lets a
// trickle of probes through once a cool-down has passed, closing again
// only when the probes succeed. Safe for concurrent use.
type Breaker struct {
	name      string
	tripAfter int
	coolDown  time.Duration
	probeMax  int
	log       *slog.Logger

	mu       sync.Mutex
	state    State
	failures int       // consecutive failures while closed
	openedAt time.Time // when the breaker last tripped
	probes   int       // probe calls admitted this half-open round
	probeOK  int       // probe calls that succeeded
}

// NewBreaker returns a closed [Breaker] configured by cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Breaker{
		name:      cfg.Name,
		tripAfter: cfg.TripAfter,
		coolDown:  cfg.CoolDown,
		probeMax:  cfg.Probes,
		log:       cfg.Logger,
	}
}

// Do runs fn unless the breaker rejects the call. Open breakers return
// [ErrBreakerOpen] without invoking fn; half-open breakers admit at
// most the configured number of probes per round.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.observe(err, probe)
	return err
}

// admit decides whether a call may proceed and whether it counts as a
// half-open probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.coolDown {
			return false, ErrBreakerOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.probeOK = 0
		b.log.Info("breaker half-open, probing backend", "breaker", b.name)
		fallthrough
	case StateHalfOpen:
		if b.probes >= b.probeMax {
			return false, ErrBreakerOpen
		}
		b.probes++
		return true, nil
	default:
		return false, nil
	}
}

// observe records the outcome of an admitted call. Calls that were
// admitted under an earlier state must not flip a breaker that has
// since moved on, hence the state checks.
func (b *Breaker) observe(callErr error, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case callErr == nil && probe:
		b.probeOK++
		if b.state == StateHalfOpen && b.probeOK >= b.probeMax {
			b.state = StateClosed
			b.failures = 0
			b.log.Info("breaker closed, backend recovered", "breaker", b.name)
		}
	case callErr == nil:
		b.failures = 0
	case probe:
		b.state = StateOpen
		b.openedAt = time.Now()
		b.log.Warn("breaker re-opened, probe failed", "breaker", b.name)
	default:
		b.failures++
		if b.state == StateClosed && b.failures >= b.tripAfter {
			b.state = StateOpen
			b.openedAt = time.Now()
			b.log.Warn("breaker opened", "breaker", b.name, "failures", b.failures)
		}
	}
}

// State reports the breaker's mode. An open breaker whose cool-down has
// elapsed reports [StateHalfOpen]; the transition itself happens on the
// next [Breaker.Do].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.coolDown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probes = 0
	b.probeOK = 0
	b.log.Info("breaker reset", "breaker", b.name)
}
