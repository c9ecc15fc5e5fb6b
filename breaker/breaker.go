// Package breaker provides a three-state circuit breaker for outbound
// calls. After a run of consecutive failures the circuit opens and calls
// fail fast with ErrOpen; once a recovery timeout passes, a single probe
// at a time is let through until enough consecutive successes close the
// circuit again.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the circuit is open and the call was not
// attempted.
var ErrOpen = errors.New("breaker: circuit open")

// State is the circuit's current mode.
type State int

const (
	// Closed means calls flow normally.
	Closed State = iota
	// Open means calls fail fast without being attempted.
	Open
	// HalfOpen means the circuit is probing for recovery.
	HalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker is a circuit breaker safe for concurrent use. The wrapped
// function runs outside the breaker's lock, so slow calls never block
// state inspection.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	probing          bool
	openedAt         time.Time
	gen              uint64
	failureThreshold int
	recoveryTimeout  time.Duration
	successThreshold int
	now              func() time.Time
}

// New creates a circuit breaker. failureThreshold consecutive failures
// open the circuit; after recoveryTimeout it half-opens and admits one
// probe at a time; successThreshold consecutive probe successes close it.
// Non-positive arguments fall back to 5 failures, 30s recovery, and 2
// successes.
func New(failureThreshold int, recoveryTimeout time.Duration, successThreshold int) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	if successThreshold <= 0 {
		successThreshold = 2
	}
	return &Breaker{
		state:            Closed,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		successThreshold: successThreshold,
		now:              time.Now,
	}
}

// Do runs fn under the circuit breaker. When the circuit is open, or a
// probe is already in flight while half-open, it returns ErrOpen without
// calling fn. Any error from fn counts as a failure.
func (b *Breaker) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	gen, err := b.admit()
	if err != nil {
		return err
	}

	callErr := fn()
	b.record(gen, callErr)
	return callErr
}

// State reports the circuit's current state, moving an expired open
// circuit to half-open first so callers see the state the next call
// would observe.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && !b.now().Before(b.openedAt.Add(b.recoveryTimeout)) {
		b.transitionLocked(HalfOpen)
	}
	return b.state
}

// admit decides whether a call may proceed and returns the generation it
// was admitted under.
func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return b.gen, nil
	case Open:
		if b.now().Before(b.openedAt.Add(b.recoveryTimeout)) {
			return 0, ErrOpen
		}
		b.transitionLocked(HalfOpen)
		b.probing = true
		return b.gen, nil
	default: // HalfOpen
		if b.probing {
			return 0, ErrOpen
		}
		b.probing = true
		return b.gen, nil
	}
}

// record applies a call outcome. Outcomes admitted before the last state
// transition are stale and ignored, except that completed calls never
// leave a probe slot occupied.
func (b *Breaker) record(gen uint64, callErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.gen {
		return
	}

	switch b.state {
	case Closed:
		if callErr != nil {
			b.failures++
			if b.failures >= b.failureThreshold {
				b.transitionLocked(Open)
			}
		} else {
			b.failures = 0
		}
	case HalfOpen:
		b.probing = false
		if callErr != nil {
			b.transitionLocked(Open)
			return
		}
		b.successes++
		if b.successes >= b.successThreshold {
			b.transitionLocked(Closed)
		}
	}
}

// transitionLocked moves to the target state and resets counters. Must be
// called with the lock held.
func (b *Breaker) transitionLocked(target State) {
	b.state = target
	b.gen++
	b.failures = 0
	b.successes = 0
	b.probing = false
	if target == Open {
		b.openedAt = b.now()
	}
}
