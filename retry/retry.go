// Package retry re-runs operations that fail transiently, backing off
// exponentially between attempts. Whether a given failure is worth
// another attempt is the caller's decision, expressed as a predicate.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config shapes the attempt schedule.
type Config struct {
	// MaxAttempts caps total calls, the first included.
	MaxAttempts int
	// InitialDelay is the pause after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the growing pause.
	MaxDelay time.Duration
	// Multiplier scales the pause after each failed attempt.
	Multiplier float64
}

// DefaultConfig makes three attempts with delays of 100ms and 200ms.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Multiplier:   2.0,
}

// IsRetryable reports whether an error is transient enough to retry.
// Returning false surfaces the error to the caller unchanged.
type IsRetryable func(error) bool

// WithRetry calls fn until it succeeds, it fails with a non-retryable
// error, ctx is done, or config.MaxAttempts is exhausted. Exhaustion
// wraps the last error, so errors.Is and errors.As still see it.
func WithRetry[T any](
	ctx context.Context,
	config Config,
	isRetryable IsRetryable,
	fn func() (T, error),
) (T, error) {
	var zero T
	var lastErr error
	delay := config.InitialDelay

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return zero, err
		}
		if attempt == config.MaxAttempts-1 {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}

		delay = time.Duration(float64(delay) * config.Multiplier)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}
