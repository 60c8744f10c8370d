// Package retry re-runs transient operations with backoff and keeps a
// file-backed dead-letter log for records that could not be processed.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"syscall"
	"time"
)

// RetryableFunc is one attempt of an operation.
type RetryableFunc func(ctx context.Context) error

// Retryer runs functions according to a Config.
type Retryer struct {
	config Config
}

// NewRetryer validates config and returns a Retryer.
func NewRetryer(config Config) (*Retryer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}
	return &Retryer{config: config}, nil
}

// Do runs fn until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx ends. The last error is wrapped in the result.
func (r *Retryer) Do(ctx context.Context, fn RetryableFunc) error {
	if !r.config.Enabled {
		return fn(ctx)
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if r.config.Retryable != nil && !r.config.Retryable(err) {
			return err
		}
		if attempt >= r.config.MaxAttempts {
			return fmt.Errorf("max retry attempts (%d) exceeded: %w", r.config.MaxAttempts, err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("context cancelled: %w", err)
		}

		delay := r.delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("context cancelled during retry: %w", err)
		}
	}
}

func (r *Retryer) delay(attempt int) time.Duration {
	var d time.Duration
	switch r.config.BackoffStrategy {
	case BackoffLinear:
		d = r.config.InitialDelay * time.Duration(attempt)
	case BackoffExponential:
		d = time.Duration(float64(r.config.InitialDelay) * math.Pow(r.config.BackoffMultiplier, float64(attempt-1)))
	default:
		d = r.config.InitialDelay
	}
	if d > r.config.MaxDelay {
		d = r.config.MaxDelay
	}
	if r.config.Jitter > 0 {
		d += time.Duration(float64(d) * r.config.Jitter * (rand.Float64()*2 - 1))
		if d < 0 {
			d = r.config.InitialDelay
		}
	}
	return d
}

// IsTransient reports network-level failures worth retrying: timeouts,
// refused or reset connections. Authentication and SQL errors are not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}
