package server

import (
	"log/slog"

	"github.com/payguard/x402-go"
	"github.com/payguard/x402-go/facilitator"
	httpx402 "github.com/payguard/x402-go/http"
	"github.com/payguard/x402-go/nonce"
	"github.com/payguard/x402-go/ratelimit"
)

// Config holds configuration for payment-gated MCP serving. The pipeline
// fields mirror the HTTP middleware configuration; requirements are
// declared per tool instead of per route.
type Config struct {
	// FacilitatorURL is the primary facilitator endpoint. Ignored when
	// Facilitator is set. Empty means local-only verification: account
	// payments pass structural checks, transaction payments are rejected.
	FacilitatorURL string

	// FallbackFacilitatorURL is the optional backup facilitator, tried
	// when the primary returns an error.
	FallbackFacilitatorURL string

	// Facilitator overrides FacilitatorURL with a caller-built
	// implementation.
	Facilitator x402.Facilitator

	// FacilitatorAuth supplies authentication for the primary facilitator.
	FacilitatorAuth facilitator.AuthProvider

	// FallbackFacilitatorAuth supplies authentication for the fallback.
	FallbackFacilitatorAuth facilitator.AuthProvider

	// Timeouts bounds facilitator calls. Zero value means
	// x402.DefaultTimeouts.
	Timeouts x402.TimeoutConfig

	// NonceTracker rejects replayed authorizations when set.
	NonceTracker nonce.Tracker

	// RateLimiter throttles verification attempts per identifier when set.
	RateLimiter ratelimit.Limiter

	// Compliance screens payer addresses when set.
	Compliance x402.ComplianceChecker

	// Metrics receives verify/settle counters and timings. Defaults to
	// x402.NopMetrics.
	Metrics x402.MetricsSink

	// Logger receives structured pipeline events. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// Production enforces deployment hygiene: a facilitator must be
	// configured and facilitator URLs must be HTTPS.
	Production bool

	// VerifyOnly skips settlement (payments are verified but never
	// executed).
	VerifyOnly bool

	// PaymentTools maps tool names to the payment requirements that
	// unlock them. Tools absent from the map are free.
	PaymentTools map[string][]x402.PaymentRequirement
}

// DefaultConfig returns a Config with an empty tool table and a
// local-only verification pipeline.
func DefaultConfig() *Config {
	return &Config{
		PaymentTools: make(map[string][]x402.PaymentRequirement),
	}
}

// AddPaymentTool declares payment requirements for a tool, replacing any
// previous declaration.
func (c *Config) AddPaymentTool(toolName string, requirements ...x402.PaymentRequirement) {
	if c.PaymentTools == nil {
		c.PaymentTools = make(map[string][]x402.PaymentRequirement)
	}
	c.PaymentTools[toolName] = requirements
}

// RequiresPayment reports whether the tool has payment requirements.
func (c *Config) RequiresPayment(toolName string) bool {
	if c.PaymentTools == nil {
		return false
	}
	reqs, exists := c.PaymentTools[toolName]
	return exists && len(reqs) > 0
}

// PaymentRequirements returns the payment requirements declared for a
// tool, or nil for free tools.
func (c *Config) PaymentRequirements(toolName string) []x402.PaymentRequirement {
	if c.PaymentTools == nil {
		return nil
	}
	return c.PaymentTools[toolName]
}

// handlerConfig maps the MCP configuration onto the shared payment
// pipeline. Tool requirements are flattened in so construction validates
// every declared requirement; per-request matching stays per tool.
func (c *Config) handlerConfig() *httpx402.Config {
	var flattened []x402.PaymentRequirement
	for _, reqs := range c.PaymentTools {
		for _, req := range reqs {
			// Tool resources use the mcp:// scheme, which the
			// payable-URL validation does not model.
			req.Resource = ""
			flattened = append(flattened, req)
		}
	}

	return &httpx402.Config{
		PaymentRequirements:     flattened,
		FacilitatorURL:          c.FacilitatorURL,
		FallbackFacilitatorURL:  c.FallbackFacilitatorURL,
		Facilitator:             c.Facilitator,
		FacilitatorAuth:         c.FacilitatorAuth,
		FallbackFacilitatorAuth: c.FallbackFacilitatorAuth,
		Timeouts:                c.Timeouts,
		NonceTracker:            c.NonceTracker,
		RateLimiter:             c.RateLimiter,
		Compliance:              c.Compliance,
		Metrics:                 c.Metrics,
		Logger:                  c.Logger,
		Production:              c.Production,
		VerifyOnly:              c.VerifyOnly,
	}
}
