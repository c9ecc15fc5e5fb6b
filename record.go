package x402

import (
	"time"

	"github.com/google/uuid"
)

// PaymentState is the lifecycle state of a single payment.
type PaymentState string

const (
	// StatePending is the initial state: requirements have been issued but
	// no authorization has been processed yet.
	StatePending PaymentState = "pending"

	// StateVerifying means an authorization is being validated.
	StateVerifying PaymentState = "verifying"

	// StateVerified means the authorization passed all checks.
	StateVerified PaymentState = "verified"

	// StateSettling means settlement has been submitted to the facilitator.
	StateSettling PaymentState = "settling"

	// StateSettled means the payment was settled on-chain. Terminal.
	StateSettled PaymentState = "settled"

	// StateFailed means verification or settlement failed. Terminal.
	StateFailed PaymentState = "failed"

	// StateExpired means the authorization validity window lapsed. Terminal.
	StateExpired PaymentState = "expired"

	// StateCancelled means the payment was abandoned before verification.
	// Terminal.
	StateCancelled PaymentState = "cancelled"
)

// stateTransitions is the explicit adjacency table. A transition not listed
// here is illegal and rejected by Transition.
var stateTransitions = map[PaymentState][]PaymentState{
	StatePending:   {StateVerifying, StateExpired, StateCancelled},
	StateVerifying: {StateVerified, StateFailed, StateExpired},
	StateVerified:  {StateSettling, StateFailed},
	StateSettling:  {StateSettled, StateFailed},
	StateSettled:   {},
	StateFailed:    {},
	StateExpired:   {},
	StateCancelled: {},
}

// String returns the state name for logging and error details.
func (s PaymentState) String() string {
	return string(s)
}

// IsTerminal reports whether the state admits no further transitions.
func (s PaymentState) IsTerminal() bool {
	switch s {
	case StateSettled, StateFailed, StateExpired, StateCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the adjacency table permits moving from
// this state to target.
func (s PaymentState) CanTransitionTo(target PaymentState) bool {
	for _, next := range stateTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// PaymentRecord binds a PaymentRequirement to an optional payload and tracks
// the payment through its lifecycle for auditability and idempotent
// settlement. Transition is the only state mutation path; once a record
// reaches a terminal state it refuses all further transitions.
type PaymentRecord struct {
	// ID uniquely identifies this payment attempt.
	ID string

	// Requirement is the payment option this record was issued for.
	Requirement PaymentRequirement

	// Payload is the client authorization, once one has been attached.
	Payload *PaymentPayload

	// State is the current lifecycle state.
	State PaymentState

	// CreatedAt is when the record was created (requirements issued).
	CreatedAt time.Time

	// UpdatedAt is when the record last changed.
	UpdatedAt time.Time

	// Transaction is the settlement transaction hash, when settled.
	Transaction string

	// LastError is the most recent failure reason, when failed.
	LastError string
}

// NewPaymentRecord creates a record in StatePending for the given
// requirement.
func NewPaymentRecord(requirement PaymentRequirement) *PaymentRecord {
	now := time.Now().UTC()
	return &PaymentRecord{
		ID:          uuid.NewString(),
		Requirement: requirement,
		State:       StatePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Transition moves the record to the next state. Illegal transitions,
// including any transition out of a terminal state, return a
// configuration-class PaymentError and leave the record unchanged.
func (r *PaymentRecord) Transition(next PaymentState) error {
	if r.State.IsTerminal() {
		return NewPaymentError(ErrCodeConfiguration, "payment record is in a terminal state", ErrInvalidStateTransition).
			WithReason(ReasonStateTransition).
			WithDetails("id", r.ID).
			WithDetails("state", r.State.String()).
			WithDetails("next", next.String())
	}
	if !r.State.CanTransitionTo(next) {
		return NewPaymentError(ErrCodeConfiguration, "illegal payment state transition", ErrInvalidStateTransition).
			WithReason(ReasonStateTransition).
			WithDetails("id", r.ID).
			WithDetails("state", r.State.String()).
			WithDetails("next", next.String())
	}

	r.State = next
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// AttachPayload associates the client authorization with the record.
func (r *PaymentRecord) AttachPayload(payload *PaymentPayload) {
	r.Payload = payload
	r.UpdatedAt = time.Now().UTC()
}

// SetTransaction records the settlement transaction hash.
func (r *PaymentRecord) SetTransaction(tx string) {
	r.Transaction = tx
	r.UpdatedAt = time.Now().UTC()
}

// SetError records the most recent failure reason.
func (r *PaymentRecord) SetError(reason string) {
	r.LastError = reason
	r.UpdatedAt = time.Now().UTC()
}
