package x402

import "time"

// TimeoutConfig bounds the facilitator calls made during payment processing.
// Settlement submits a transaction and waits for confirmation, so it gets a
// much longer budget than verification.
type TimeoutConfig struct {
	// VerifyTimeout bounds a single facilitator verify call.
	VerifyTimeout time.Duration

	// SettleTimeout bounds a single facilitator settle call, including
	// on-chain confirmation.
	SettleTimeout time.Duration

	// RequestTimeout bounds the overall payment processing of one request.
	// Zero means no overall bound beyond the per-call timeouts.
	RequestTimeout time.Duration
}

// DefaultTimeouts are the timeouts used when none are configured.
var DefaultTimeouts = TimeoutConfig{
	VerifyTimeout:  5 * time.Second,
	SettleTimeout:  60 * time.Second,
	RequestTimeout: 120 * time.Second,
}

// Validate checks the timeout configuration for internal consistency.
func (c TimeoutConfig) Validate() error {
	if c.VerifyTimeout <= 0 {
		return NewPaymentError(ErrCodeConfiguration, "verify timeout must be positive", nil).
			WithDetails("verifyTimeout", c.VerifyTimeout.String())
	}
	if c.SettleTimeout <= 0 {
		return NewPaymentError(ErrCodeConfiguration, "settle timeout must be positive", nil).
			WithDetails("settleTimeout", c.SettleTimeout.String())
	}
	if c.SettleTimeout < c.VerifyTimeout {
		return NewPaymentError(ErrCodeConfiguration, "settle timeout must be at least the verify timeout", nil).
			WithDetails("verifyTimeout", c.VerifyTimeout.String()).
			WithDetails("settleTimeout", c.SettleTimeout.String())
	}
	if c.RequestTimeout < 0 {
		return NewPaymentError(ErrCodeConfiguration, "request timeout cannot be negative", nil).
			WithDetails("requestTimeout", c.RequestTimeout.String())
	}
	return nil
}

// WithVerifyTimeout returns a copy with the verify timeout replaced.
func (c TimeoutConfig) WithVerifyTimeout(d time.Duration) TimeoutConfig {
	c.VerifyTimeout = d
	return c
}

// WithSettleTimeout returns a copy with the settle timeout replaced.
func (c TimeoutConfig) WithSettleTimeout(d time.Duration) TimeoutConfig {
	c.SettleTimeout = d
	return c
}

// WithRequestTimeout returns a copy with the request timeout replaced.
func (c TimeoutConfig) WithRequestTimeout(d time.Duration) TimeoutConfig {
	c.RequestTimeout = d
	return c
}
