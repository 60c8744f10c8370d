package retry

import (
	"fmt"
	"time"
)

// BackoffStrategy selects how the delay grows between attempts.
type BackoffStrategy string

const (
	BackoffConstant    BackoffStrategy = "constant"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// Config controls a Retryer. MaxAttempts counts the first attempt too.
type Config struct {
	Enabled           bool            `yaml:"enabled"`
	MaxAttempts       int             `yaml:"max_attempts"`
	InitialDelay      time.Duration   `yaml:"initial_delay"`
	MaxDelay          time.Duration   `yaml:"max_delay"`
	BackoffStrategy   BackoffStrategy `yaml:"strategy"`
	BackoffMultiplier float64         `yaml:"multiplier"`
	// Jitter is the random fraction (0..1) added to or removed from each delay.
	Jitter float64 `yaml:"jitter"`

	// Retryable decides which errors are worth another attempt.
	// Nil retries every error.
	Retryable func(error) bool `yaml:"-"`
	// OnRetry is called before sleeping.
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-"`
}

// Validate checks the configuration and fills the multiplier default.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.InitialDelay < 0 {
		return fmt.Errorf("initial_delay must be >= 0")
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("max_delay (%v) must be >= initial_delay (%v)", c.MaxDelay, c.InitialDelay)
	}
	switch c.BackoffStrategy {
	case BackoffConstant, BackoffLinear, BackoffExponential:
	default:
		return fmt.Errorf("invalid backoff strategy: %s", c.BackoffStrategy)
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2.0
	}
	if c.Jitter < 0 || c.Jitter > 1.0 {
		return fmt.Errorf("jitter must be between 0.0 and 1.0, got %f", c.Jitter)
	}
	return nil
}

// DefaultConfig is three exponential attempts starting at 200ms.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		MaxAttempts:       3,
		InitialDelay:      200 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffStrategy:   BackoffExponential,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// Disabled runs every function exactly once.
func Disabled() Config {
	return Config{}
}
