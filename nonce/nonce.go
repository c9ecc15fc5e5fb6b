// Package nonce tracks payment authorization nonces to prevent replay.
//
// A nonce is marked used at most once: MarkUsed is an atomic
// create-if-absent, so when two requests carry the same authorization
// exactly one of them wins. Entries expire after a TTL derived from the
// authorization's validity window, after which the nonce could no longer
// be replayed anyway.
package nonce

import (
	"context"
	"sync"
	"time"

	"github.com/payguard/x402-go"
)

// Tracker records which authorization nonces have already been accepted.
//
// Implementations must be safe for concurrent use. MarkUsed must be a
// single atomic check-and-set: two concurrent calls with the same nonce
// must not both return true. Distributed deployments should back this
// with a store that offers the same primitive (e.g. Redis SET NX EX).
type Tracker interface {
	// Has reports whether the nonce is currently marked used.
	Has(ctx context.Context, nonce string) (bool, error)

	// MarkUsed marks the nonce as used for the given TTL. It returns true
	// if the nonce was newly marked, false if it was already present.
	MarkUsed(ctx context.Context, nonce string, ttl time.Duration) (bool, error)

	// Remove clears a nonce before its TTL expires. Intended for tests
	// and operational cleanup, not for the payment path.
	Remove(ctx context.Context, nonce string) error
}

// MemoryTracker is an in-memory Tracker for single-instance deployments.
// Expired entries are pruned lazily on writes.
type MemoryTracker struct {
	mu     sync.Mutex
	expiry map[string]time.Time
	now    func() time.Time
}

// NewMemoryTracker creates an empty in-memory nonce tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		expiry: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Has reports whether the nonce is marked used and not yet expired.
func (t *MemoryTracker) Has(ctx context.Context, nonce string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	deadline, exists := t.expiry[nonce]
	if !exists {
		return false, nil
	}
	if t.now().After(deadline) {
		delete(t.expiry, nonce)
		return false, nil
	}
	return true, nil
}

// MarkUsed atomically marks the nonce as used for ttl. The check and the
// insert happen under one lock, so exactly one caller wins a race.
func (t *MemoryTracker) MarkUsed(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if nonce == "" {
		return false, x402.NewValidationError(x402.ReasonInvalidNonce, "nonce must not be empty", x402.ErrInvalidNonce)
	}
	if ttl <= 0 {
		return false, x402.NewPaymentError(x402.ErrCodeConfiguration, "nonce TTL must be positive", nil).
			WithDetails("ttl", ttl.String())
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if deadline, exists := t.expiry[nonce]; exists && now.Before(deadline) {
		return false, nil
	}

	t.expiry[nonce] = now.Add(ttl)
	t.pruneLocked(now)
	return true, nil
}

// Remove clears the nonce regardless of its expiry.
func (t *MemoryTracker) Remove(ctx context.Context, nonce string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.expiry, nonce)
	return nil
}

// Len reports the number of tracked nonces, including any whose expiry
// has passed but which have not been pruned yet.
func (t *MemoryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.expiry)
}

// pruneLocked removes expired entries. Must be called with the lock held.
func (t *MemoryTracker) pruneLocked(now time.Time) {
	for nonce, deadline := range t.expiry {
		if now.After(deadline) {
			delete(t.expiry, nonce)
		}
	}
}

var _ Tracker = (*MemoryTracker)(nil)
