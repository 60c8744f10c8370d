package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Breaker.Execute while calls are rejected.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets calls through.
	BreakerClosed BreakerState = iota
	// BreakerHalfOpen lets calls through to probe recovery.
	BreakerHalfOpen
	// BreakerOpen rejects calls until Timeout passes.
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerHalfOpen:
		return "half-open"
	case BreakerOpen:
		return "open"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// BreakerConfig controls a Breaker.
type BreakerConfig struct {
	// MaxFailures consecutive failures open the circuit.
	MaxFailures int
	// Timeout is how long the circuit stays open before a probe.
	Timeout time.Duration
	// SuccessThreshold probes must succeed to close it again.
	SuccessThreshold int
	// OnStateChange runs synchronously on every transition.
	OnStateChange func(from, to BreakerState)
}

// DefaultBreaker opens after 5 failures for 30s and closes after 1 probe.
func DefaultBreaker() BreakerConfig {
	return BreakerConfig{MaxFailures: 5, Timeout: 30 * time.Second, SuccessThreshold: 1}
}

// Breaker stops calling a dependency that keeps failing. It is safe for
// concurrent use.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	expiry    time.Time
}

func NewBreaker(cfg BreakerConfig) (*Breaker, error) {
	if cfg.MaxFailures <= 0 {
		return nil, fmt.Errorf("max failures must be > 0, got %d", cfg.MaxFailures)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0")
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	return &Breaker{cfg: cfg, now: time.Now}, nil
}

// State reports the current state, moving an expired open circuit to half-open.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expire()
	return b.state
}

// Execute runs fn unless the circuit is open.
func (b *Breaker) Execute(ctx context.Context, fn RetryableFunc) error {
	b.mu.Lock()
	b.expire()
	if b.state == BreakerOpen {
		b.mu.Unlock()
		return ErrCircuitOpen
	}
	b.mu.Unlock()

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure()
	} else {
		b.onSuccess()
	}
	return err
}

func (b *Breaker) expire() {
	if b.state == BreakerOpen && !b.now().Before(b.expiry) {
		b.transition(BreakerHalfOpen)
	}
}

func (b *Breaker) onFailure() {
	switch b.state {
	case BreakerHalfOpen:
		b.transition(BreakerOpen)
	case BreakerClosed:
		b.failures++
		if b.failures >= b.cfg.MaxFailures {
			b.transition(BreakerOpen)
		}
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(BreakerClosed)
		}
	case BreakerClosed:
		b.failures = 0
	}
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	b.failures, b.successes = 0, 0
	if to == BreakerOpen {
		b.expiry = b.now().Add(b.cfg.Timeout)
	}
	if b.cfg.OnStateChange != nil && from != to {
		b.cfg.OnStateChange(from, to)
	}
}
