// Package retry runs an operation again after a delay until it succeeds,
// the error is not retryable, or attempts run out.
package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// Options configures the delay between attempts. The zero value runs the
// operation exactly once.
type Options struct {
	// MaxAttempts counts the first try. Values below 1 mean 1.
	MaxAttempts int
	Delay       time.Duration
	// MaxDelay caps the delay when Multiplier grows it; zero means no cap.
	MaxDelay time.Duration
	// Multiplier scales the delay after each failure. Values below 1 keep
	// the delay fixed.
	Multiplier float64
	// Jitter spreads each sleep by +/-20%.
	Jitter bool
}

// FromRetries builds fixed-delay options for n retries after the first try.
func FromRetries(n int, delay time.Duration) Options {
	return Options{MaxAttempts: n + 1, Delay: delay}
}

type IsRetryableFunc func(error) bool

// Do executes fn until it succeeds, ctx is done, isRetryable rejects the
// error, or attempts are exhausted. Returns the last error.
func Do(ctx context.Context, opts Options, isRetryable IsRetryableFunc, fn func(context.Context) error) error {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Multiplier < 1 {
		opts.Multiplier = 1
	}
	backoff := opts.Delay

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isRetryable != nil && !isRetryable(err) {
			return err
		}
		if attempt >= opts.MaxAttempts {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		sleep := backoff
		if opts.Jitter {
			delta := float64(backoff) * 0.2
			j := (rand.Float64()*2 - 1) * delta
			sleep = time.Duration(math.Max(0, float64(backoff)+j))
		}
		if opts.MaxDelay > 0 && sleep > opts.MaxDelay {
			sleep = opts.MaxDelay
		}

		slog.Warn("attempt failed, retrying",
			"attempt", attempt, "maxAttempts", opts.MaxAttempts, "delay", sleep, "error", err)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		// Overflow guard.
		next := time.Duration(float64(backoff) * opts.Multiplier)
		if next < backoff {
			next = backoff
		}
		backoff = next
		if opts.MaxDelay > 0 && backoff > opts.MaxDelay {
			backoff = opts.MaxDelay
		}
	}
}
