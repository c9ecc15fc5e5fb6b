// Package ratelimit bounds failed payment attempts per client identifier.
//
// The limiter counts attempts in a sliding window. Attempts are recorded
// before verification runs; a successful verification relieves its own
// attempt so that legitimate payers are never throttled by their own
// successes. Identifiers (typically client IPs or payer addresses) are
// hashed before storage so raw values never sit in memory.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/payguard/x402-go"
)

// Limiter throttles verification attempts per client identifier.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// IsAllowed reports whether the identifier may attempt another
	// verification right now.
	IsAllowed(ctx context.Context, id string) (bool, error)

	// RecordAttempt counts an attempt and returns the number of attempts
	// currently inside the window, including this one.
	RecordAttempt(ctx context.Context, id string) (int, error)

	// RecordSuccess relieves one prior attempt for the identifier, so
	// successful verifications do not consume quota.
	RecordSuccess(ctx context.Context, id string) error

	// Reset clears all attempts for the identifier.
	Reset(ctx context.Context, id string) error
}

// MemoryLimiter is an in-memory sliding-window Limiter for
// single-instance deployments.
type MemoryLimiter struct {
	mu          sync.Mutex
	attempts    map[string][]time.Time
	maxAttempts int
	window      time.Duration
	now         func() time.Time
}

// NewMemoryLimiter creates a limiter that admits up to maxAttempts
// attempts per identifier within the trailing window.
func NewMemoryLimiter(maxAttempts int, window time.Duration) *MemoryLimiter {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{
		attempts:    make(map[string][]time.Time),
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
	}
}

// hashID hashes the identifier so raw client addresses never appear as
// map keys or in heap dumps.
func hashID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

// IsAllowed reports whether the identifier has attempts remaining.
func (l *MemoryLimiter) IsAllowed(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if id == "" {
		return false, x402.NewValidationError(x402.ReasonMissingField, "rate limit identifier must not be empty", nil)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := hashID(id)
	live := l.pruneLocked(key)
	return len(live) < l.maxAttempts, nil
}

// RecordAttempt counts an attempt for the identifier and returns how many
// attempts are live in the window, including this one.
func (l *MemoryLimiter) RecordAttempt(ctx context.Context, id string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if id == "" {
		return 0, x402.NewValidationError(x402.ReasonMissingField, "rate limit identifier must not be empty", nil)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := hashID(id)
	live := append(l.pruneLocked(key), l.now())
	l.attempts[key] = live
	return len(live), nil
}

// RecordSuccess removes the oldest live attempt for the identifier.
// Calling it without a prior attempt is a no-op.
func (l *MemoryLimiter) RecordSuccess(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return x402.NewValidationError(x402.ReasonMissingField, "rate limit identifier must not be empty", nil)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := hashID(id)
	live := l.pruneLocked(key)
	if len(live) == 0 {
		delete(l.attempts, key)
		return nil
	}
	live = live[1:]
	if len(live) == 0 {
		delete(l.attempts, key)
	} else {
		l.attempts[key] = live
	}
	return nil
}

// Reset clears all attempts for the identifier.
func (l *MemoryLimiter) Reset(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.attempts, hashID(id))
	return nil
}

// pruneLocked drops attempts older than the window and returns the live
// slice. Must be called with the lock held. Timestamps are appended in
// order, so the live suffix starts at the first in-window entry.
func (l *MemoryLimiter) pruneLocked(key string) []time.Time {
	cutoff := l.now().Add(-l.window)
	recorded := l.attempts[key]

	idx := 0
	for idx < len(recorded) && !recorded[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return recorded
	}

	live := recorded[idx:]
	if len(live) == 0 {
		delete(l.attempts, key)
		return nil
	}
	l.attempts[key] = live
	return live
}

var _ Limiter = (*MemoryLimiter)(nil)
