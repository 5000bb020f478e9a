// Package retry retries transient remote failures inside the caller's
// deadline. A retry is never scheduled past the deadline, so a call's total
// time is bounded by the context it was given.
package retry

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// BackoffStrategy defines how to calculate the next retry wait.
type BackoffStrategy int

const (
	// BackoffExponential uses exponential backoff: base * 2^(attempt-1)
	BackoffExponential BackoffStrategy = iota

	// BackoffLinear uses linear backoff: base * attempt
	BackoffLinear

	// BackoffConstant uses constant backoff: base (no increase)
	BackoffConstant
)

// String returns the config name of the strategy.
func (s BackoffStrategy) String() string {
	switch s {
	case BackoffLinear:
		return "linear"
	case BackoffConstant:
		return "constant"
	default:
		return "exponential"
	}
}

// ParseBackoffStrategy maps a config name to a strategy. Empty means
// exponential.
func ParseBackoffStrategy(name string) (BackoffStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "exponential":
		return BackoffExponential, nil
	case "linear":
		return BackoffLinear, nil
	case "constant":
		return BackoffConstant, nil
	}
	return BackoffExponential, fmt.Errorf("unknown backoff strategy %q", name)
}

// BackoffConfig configures the backoff behavior.
type BackoffConfig struct {
	// Strategy is the backoff strategy to use.
	// Default is BackoffExponential.
	Strategy BackoffStrategy

	// BaseInterval is the wait before the first retry.
	// Default is 500ms.
	BaseInterval time.Duration

	// MaxInterval caps a single wait.
	// Default is 5 seconds.
	MaxInterval time.Duration

	// Jitter adds randomness to prevent thundering herd.
	// Value between 0.0 (no jitter) and 1.0 (full jitter).
	// Default is 0.1 (10% jitter).
	Jitter float64
}

// DefaultBackoffConfig returns a BackoffConfig with default values.
func DefaultBackoffConfig() *BackoffConfig {
	return &BackoffConfig{
		Strategy:     BackoffExponential,
		BaseInterval: 500 * time.Millisecond,
		MaxInterval:  5 * time.Second,
		Jitter:       0.1,
	}
}

// Interval returns the wait before retry number attempt (1-based).
//
// Schedule with the defaults, before jitter:
//
//	attempt 1: 500ms
//	attempt 2: 1s
//	attempt 3: 2s
//	attempt 4: 4s
//	attempt 5: 5s (capped)
func (c *BackoffConfig) Interval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var interval time.Duration
	switch c.Strategy {
	case BackoffLinear:
		interval = c.BaseInterval * time.Duration(attempt)
	case BackoffConstant:
		interval = c.BaseInterval
	default:
		multiplier := math.Pow(2, float64(attempt-1))
		interval = time.Duration(float64(c.BaseInterval) * multiplier)
	}

	if c.MaxInterval > 0 && interval > c.MaxInterval {
		interval = c.MaxInterval
	}
	if c.Jitter > 0 {
		interval = c.applyJitter(interval)
	}
	return interval
}

// applyJitter adds randomness to the interval to prevent thundering herd.
func (c *BackoffConfig) applyJitter(interval time.Duration) time.Duration {
	jitter := c.Jitter
	if jitter > 1 {
		jitter = 1
	}

	// For jitter=0.1 the result is in [0.9, 1.1] * interval.
	jitterRange := float64(interval) * jitter
	jitterValue := (rand.Float64()*2 - 1) * jitterRange
	return time.Duration(float64(interval) + jitterValue)
}

// Schedule returns the waits for maxAttempts retries, without jitter.
func (c *BackoffConfig) Schedule(maxAttempts int) []time.Duration {
	if maxAttempts <= 0 {
		return nil
	}
	noJitter := *c
	noJitter.Jitter = 0

	schedule := make([]time.Duration, maxAttempts)
	for i := 0; i < maxAttempts; i++ {
		schedule[i] = noJitter.Interval(i + 1)
	}
	return schedule
}
