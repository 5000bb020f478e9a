// Package ratelimit provides the run-wide token bucket that every outbound
// call must pass through.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
	"github.com/exploopio/scopeguard/pkg/metrics"
)

const (
	// DefaultRatePerMinute mirrors the conservative SCAN_RATE default.
	DefaultRatePerMinute = 5

	// DefaultMaxConcurrency bounds in-flight remote calls.
	DefaultMaxConcurrency = 4
)

// Config configures a Limiter.
type Config struct {
	// RatePerMinute is the sustained request rate.
	RatePerMinute int

	// Burst is the bucket size. Default: 1.
	Burst int

	// MaxConcurrency is the number of calls allowed in flight at once.
	MaxConcurrency int

	// Metrics receives wait-time observations.
	Metrics metrics.Collector
}

// Limiter combines a token bucket with a concurrency semaphore.
// A nil *Limiter never blocks.
type Limiter struct {
	bucket  *rate.Limiter
	sem     *semaphore.Weighted
	metrics metrics.Collector
}

// New creates a Limiter. Zero values fall back to the package defaults.
func New(cfg Config) *Limiter {
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = DefaultRatePerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &metrics.NopCollector{}
	}

	every := time.Minute / time.Duration(cfg.RatePerMinute)
	return &Limiter{
		bucket:  rate.NewLimiter(rate.Every(every), cfg.Burst),
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		metrics: cfg.Metrics,
	}
}

// Acquire blocks until both a concurrency slot and a rate token are available.
// The returned release func frees the concurrency slot and must be called once
// the remote call finishes. If ctx ends first, Acquire fails with a timeout
// error (deadline) or a rate-limit error (cancellation).
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if l == nil {
		return func() {}, nil
	}

	start := time.Now()
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, waitError(ctx, err)
	}
	if err := l.bucket.Wait(ctx); err != nil {
		l.sem.Release(1)
		return nil, waitError(ctx, err)
	}
	l.metrics.HistogramObserve(metrics.RateLimitWait.Name, time.Since(start).Seconds())

	return func() { l.sem.Release(1) }, nil
}

// Wait acquires a token and immediately frees the concurrency slot. Use it for
// calls that are not tracked for concurrency.
func (l *Limiter) Wait(ctx context.Context) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	release()
	return nil
}

func waitError(ctx context.Context, err error) error {
	if _, ok := ctx.Deadline(); ok || ctx.Err() == context.DeadlineExceeded {
		return sgerrors.E(sgerrors.KindTimeout, "ratelimit.Acquire", "deadline reached waiting for rate limit", err)
	}
	return sgerrors.E(sgerrors.KindRateLimit, "ratelimit.Acquire", "rate limit wait aborted", err)
}
