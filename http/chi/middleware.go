// Package chi provides Chi-compatible middleware for x402 payment gating.
// Chi routers consume standard net/http middleware, so this package adapts
// the core payment middleware under a Chi-flavored constructor and keeps
// all verification and settlement logic in the http package.
package chi

import (
	"net/http"

	httpx402 "github.com/payguard/x402-go/http"
)

// NewChiX402Middleware creates a new x402 payment middleware for Chi.
// It returns a middleware function compatible with chi.Router.Use.
//
// The middleware:
//   - Bypasses OPTIONS requests for CORS preflight support
//   - Checks for X-PAYMENT header in requests
//   - Returns 402 Payment Required if missing or invalid
//   - Runs the full verification pipeline (authorization checks, replay
//     protection, rate limiting, facilitator verification)
//   - Settles payments after the handler succeeds (unless VerifyOnly=true)
//   - Stores payment information in request context, readable via
//     httpx402.PaymentFromContext
//
// Example usage:
//
//	req, _ := x402.NewUSDCPaymentRequirement(x402.USDCRequirementConfig{
//	    Chain:            x402.BaseSepolia,
//	    Amount:           "0.01",
//	    RecipientAddress: "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//	})
//	r := chi.NewRouter()
//	r.Use(NewChiX402Middleware(&httpx402.Config{
//	    FacilitatorURL:      "https://api.x402.coinbase.com",
//	    PaymentRequirements: []x402.PaymentRequirement{req},
//	}))
//	r.Get("/protected", func(w http.ResponseWriter, r *http.Request) {
//	    payment := httpx402.PaymentFromContext(r.Context())
//	    w.Write([]byte("Access granted! Payer: " + payment.Payer))
//	})
func NewChiX402Middleware(config *httpx402.Config) func(http.Handler) http.Handler {
	return httpx402.NewX402Middleware(config)
}

// Middleware adapts an already-constructed PaymentHandler for chi.Router.Use.
// Use it when the same handler serves several transports and should share
// replay and rate-limit state between them.
func Middleware(handler *httpx402.PaymentHandler) func(http.Handler) http.Handler {
	return httpx402.Middleware(handler)
}
