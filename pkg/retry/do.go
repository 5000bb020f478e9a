package retry

import (
	"context"
	"time"

	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
)

// Policy bounds Do.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// Backoff computes the waits. Default: DefaultBackoffConfig().
	Backoff *BackoffConfig

	// Retryable decides whether an error is worth another attempt.
	// Default: errors.IsRetryable (rate limit, server and network kinds).
	Retryable func(error) bool

	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Do calls fn until it succeeds, returns a non-retryable error, runs out of
// retries, or the next wait would end after ctx's deadline. The last error
// from fn is returned; a cancelled ctx returns a timeout error wrapping it.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	backoff := p.Backoff
	if backoff == nil {
		backoff = DefaultBackoffConfig()
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = sgerrors.IsRetryable
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return sgerrors.E(sgerrors.KindTimeout, "retry.Do", "deadline reached", err)
		}
		if attempt >= p.MaxRetries || !retryable(err) {
			return err
		}

		wait := backoff.Interval(attempt + 1)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= wait {
			return err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return sgerrors.E(sgerrors.KindTimeout, "retry.Do", "deadline reached", err)
		case <-timer.C:
		}
	}
}
