package x402

import "errors"

// Standard x402 error definitions

var (
	// ErrPaymentRequired indicates that payment is required to access the resource.
	ErrPaymentRequired = errors.New("x402: payment required")

	// ErrInvalidPayment indicates that the provided payment is invalid.
	ErrInvalidPayment = errors.New("x402: invalid payment")

	// ErrMalformedHeader indicates that the X-PAYMENT header is malformed.
	ErrMalformedHeader = errors.New("x402: malformed payment header")

	// ErrUnsupportedVersion indicates an unsupported x402 protocol version.
	ErrUnsupportedVersion = errors.New("x402: unsupported protocol version")

	// ErrUnsupportedScheme indicates an unsupported payment scheme.
	ErrUnsupportedScheme = errors.New("x402: unsupported payment scheme")

	// ErrUnsupportedNetwork indicates an unsupported blockchain network.
	ErrUnsupportedNetwork = errors.New("x402: unsupported network")

	// ErrInvalidNetwork indicates an invalid or unknown network identifier.
	ErrInvalidNetwork = errors.New("x402: invalid or unsupported network")

	// ErrInvalidSignature indicates a missing or malformed signature field.
	ErrInvalidSignature = errors.New("x402: invalid signature")

	// ErrInvalidAuthorization indicates invalid payment authorization data.
	ErrInvalidAuthorization = errors.New("x402: invalid authorization")

	// ErrExpiredAuthorization indicates the payment authorization has expired
	// or expires too close to now to survive confirmation delay.
	ErrExpiredAuthorization = errors.New("x402: expired authorization")

	// ErrInsufficientFunds indicates the payer has insufficient funds.
	ErrInsufficientFunds = errors.New("x402: insufficient funds")

	// ErrInvalidNonce indicates a malformed authorization nonce.
	ErrInvalidNonce = errors.New("x402: invalid nonce")

	// ErrReplayDetected indicates the authorization nonce was already used.
	ErrReplayDetected = errors.New("x402: replay detected")

	// ErrRateLimitExceeded indicates the caller exhausted its attempt window.
	ErrRateLimitExceeded = errors.New("x402: rate limit exceeded")

	// ErrComplianceBlocked indicates the payer address is blocked by policy.
	ErrComplianceBlocked = errors.New("x402: address blocked by compliance policy")

	// ErrRecipientMismatch indicates payment recipient doesn't match requirements.
	ErrRecipientMismatch = errors.New("x402: recipient mismatch")

	// ErrAmountMismatch indicates payment amount doesn't meet requirements.
	ErrAmountMismatch = errors.New("x402: amount mismatch")

	// ErrInvalidAmount indicates a malformed or out-of-range amount string.
	ErrInvalidAmount = errors.New("x402: invalid amount")

	// ErrInvalidAddress indicates a malformed blockchain address.
	ErrInvalidAddress = errors.New("x402: invalid address")

	// ErrOverflow indicates unsigned 256-bit arithmetic would exceed 2^256-1.
	ErrOverflow = errors.New("x402: uint256 overflow")

	// ErrInvalidRequirements indicates invalid payment requirements.
	ErrInvalidRequirements = errors.New("x402: invalid payment requirements")

	// ErrInvalidToken indicates an invalid token configuration.
	ErrInvalidToken = errors.New("x402: invalid token configuration")

	// ErrInvalidMnemonic indicates an invalid mnemonic phrase.
	ErrInvalidMnemonic = errors.New("x402: invalid mnemonic phrase")

	// ErrFacilitatorUnavailable indicates the facilitator service is unavailable.
	ErrFacilitatorUnavailable = errors.New("x402: facilitator service unavailable")

	// ErrFacilitatorRequired indicates an operation that cannot be performed
	// without a configured facilitator (e.g. transaction-based verification).
	ErrFacilitatorRequired = errors.New("x402: facilitator required")

	// ErrCircuitOpen indicates the facilitator circuit breaker is open and
	// calls are failing fast without reaching the facilitator.
	ErrCircuitOpen = errors.New("x402: facilitator circuit open")

	// ErrSettlementFailed indicates on-chain settlement failed.
	ErrSettlementFailed = errors.New("x402: payment settlement failed")

	// ErrVerificationFailed indicates payment verification failed.
	ErrVerificationFailed = errors.New("x402: payment verification failed")

	// ErrInvalidStateTransition indicates an illegal payment state transition.
	ErrInvalidStateTransition = errors.New("x402: invalid payment state transition")

	// ErrTimeout indicates the operation timed out.
	ErrTimeout = errors.New("x402: operation timed out")
)

// ErrorCode classifies a PaymentError into the error taxonomy. Codes are
// stable strings suitable for API responses and metric tags.
type ErrorCode string

const (
	// ErrCodeValidation covers malformed or out-of-range input. Always local
	// and recoverable by the caller fixing its input.
	ErrCodeValidation ErrorCode = "validation_error"

	// ErrCodePaymentRejected covers authorizations that do not satisfy the
	// requirements, or that the facilitator reported as invalid.
	ErrCodePaymentRejected ErrorCode = "payment_rejected"

	// ErrCodeReplayDetected covers reuse of an already-seen nonce.
	ErrCodeReplayDetected ErrorCode = "replay_detected"

	// ErrCodeRateLimited covers callers that exhausted their attempt window.
	ErrCodeRateLimited ErrorCode = "rate_limit_exceeded"

	// ErrCodeFacilitatorUnavailable covers transport failures and an open
	// circuit breaker. Distinct from rejection so callers can tell
	// "facilitator said no" from "facilitator is unreachable".
	ErrCodeFacilitatorUnavailable ErrorCode = "facilitator_unavailable"

	// ErrCodeConfiguration covers invalid construction and fail-closed
	// conditions such as a missing facilitator for transaction networks.
	ErrCodeConfiguration ErrorCode = "configuration_error"
)

// Reason is a stable machine-readable reason code carried by PaymentError.
// Callers branch on these instead of matching message strings.
type Reason string

const (
	ReasonMalformedHeader     Reason = "malformed_header"
	ReasonUnsupportedVersion  Reason = "unsupported_version"
	ReasonUnsupportedScheme   Reason = "unsupported_scheme"
	ReasonUnsupportedNetwork  Reason = "unsupported_network"
	ReasonInvalidAddress      Reason = "invalid_address"
	ReasonInvalidAmount       Reason = "invalid_amount"
	ReasonInvalidNonce        Reason = "invalid_nonce"
	ReasonInvalidSignature    Reason = "invalid_signature"
	ReasonInvalidTimestamp    Reason = "invalid_timestamp"
	ReasonInvalidTransaction  Reason = "invalid_transaction"
	ReasonVariantMismatch     Reason = "payload_variant_mismatch"
	ReasonInvalidURL          Reason = "invalid_url"
	ReasonOverflow            Reason = "uint256_overflow"
	ReasonMissingField        Reason = "missing_field"
	ReasonMissingDomainParams Reason = "missing_domain_parameters"
	ReasonRecipientMismatch   Reason = "recipient_mismatch"
	ReasonAmountMismatch      Reason = "amount_mismatch"
	ReasonNotYetValid         Reason = "authorization_not_yet_valid"
	ReasonExpired             Reason = "authorization_expired"
	ReasonNonceUsed           Reason = "nonce_already_used"
	ReasonTooManyAttempts     Reason = "too_many_attempts"
	ReasonComplianceBlocked   Reason = "compliance_blocked"
	ReasonFacilitatorRequired Reason = "facilitator_required"
	ReasonCircuitOpen         Reason = "circuit_open"
	ReasonBadRequest          Reason = "facilitator_bad_request"
	ReasonAuthFailure         Reason = "facilitator_auth_failure"
	ReasonNotFound            Reason = "facilitator_not_found"
	ReasonUpstreamRateLimited Reason = "facilitator_rate_limited"
	ReasonUpstreamUnavailable Reason = "upstream_unavailable"
	ReasonSettlementFailed    Reason = "settlement_failed"
	ReasonStateTransition     Reason = "invalid_state_transition"
	ReasonUnknown             Reason = "unknown_error"
)

// PaymentError is a structured error carrying a taxonomy code, a stable
// reason code, and optional key-value details for logging and API responses.
type PaymentError struct {
	// Code classifies the error into the taxonomy.
	Code ErrorCode

	// Reason is the fine-grained machine-readable reason code. For
	// facilitator rejections it carries the facilitator's invalidReason
	// verbatim.
	Reason Reason

	// Message is a human-readable description safe to surface to callers.
	Message string

	// Err is the underlying cause, if any.
	Err error

	// Details holds structured context for logging. Never contains raw
	// facilitator response bodies.
	Details map[string]interface{}
}

// NewPaymentError creates a PaymentError with the given code, message, and
// underlying cause. The Details map is always initialized.
func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// NewValidationError creates a validation-class PaymentError with a reason code.
func NewValidationError(reason Reason, message string, err error) *PaymentError {
	return NewPaymentError(ErrCodeValidation, message, err).WithReason(reason)
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	if e.Err != nil {
		return "x402: " + e.Message + ": " + e.Err.Error()
	}
	return "x402: " + e.Message
}

// Unwrap returns the underlying error for errors.Is/errors.As chains.
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// WithReason sets the reason code and returns the error for chaining.
func (e *PaymentError) WithReason(reason Reason) *PaymentError {
	e.Reason = reason
	return e
}

// WithDetails adds a key-value detail and returns the error for chaining.
func (e *PaymentError) WithDetails(key string, value interface{}) *PaymentError {
	e.Details[key] = value
	return e
}

// CodeOf extracts the taxonomy code from an error chain. Returns the empty
// string when no PaymentError is present.
func CodeOf(err error) ErrorCode {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// ReasonOf extracts the reason code from an error chain. Returns the empty
// string when no PaymentError is present.
func ReasonOf(err error) Reason {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ""
}
