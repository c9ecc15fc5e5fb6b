// Package pocketbase provides PocketBase-compatible middleware for x402
// payment gating. It binds to PocketBase's router hooks and delegates all
// verification and settlement logic to the http package.
package pocketbase

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase/core"

	"github.com/payguard/x402-go"
	httpx402 "github.com/payguard/x402-go/http"
	"github.com/payguard/x402-go/internal/helpers"
)

// PaymentContextKey is the event store key under which the middleware
// stores the *x402.VerifyResponse for the verified payment.
const PaymentContextKey = "x402_payment"

// NewPocketBaseX402Middleware creates a new x402 payment middleware for
// PocketBase. The returned function binds to routes or route groups with
// BindFunc.
//
// The middleware:
//   - Bypasses OPTIONS requests for CORS preflight support
//   - Checks for X-PAYMENT header in requests
//   - Returns 402 Payment Required if missing or invalid
//   - Runs the full verification pipeline (authorization checks, replay
//     protection, rate limiting, facilitator verification)
//   - Settles payments before the handler runs (unless VerifyOnly=true)
//   - Stores payment information in the event store via e.Set("x402_payment", verifyResp)
//
// Example usage:
//
//	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
//	    middleware := NewPocketBaseX402Middleware(config)
//
//	    se.Router.GET("/api/premium/data", func(e *core.RequestEvent) error {
//	        payment := e.Get("x402_payment").(*x402.VerifyResponse)
//	        return e.JSON(http.StatusOK, map[string]any{"payer": payment.Payer})
//	    }).BindFunc(middleware)
//
//	    return se.Next()
//	})
func NewPocketBaseX402Middleware(config *httpx402.Config) func(*core.RequestEvent) error {
	handler, err := httpx402.NewPaymentHandler(config)
	if err != nil {
		return brokenPocketBaseMiddleware(slog.Default(), err)
	}
	if len(handler.Requirements()) == 0 {
		return brokenPocketBaseMiddleware(handler.Logger(), x402.NewPaymentError(x402.ErrCodeConfiguration, "middleware requires at least one payment requirement", nil))
	}

	ctx, cancel := context.WithTimeout(context.Background(), x402.DefaultTimeouts.RequestTimeout)
	defer cancel()
	if err := handler.EnrichRequirements(ctx); err != nil {
		handler.Logger().Warn("failed to enrich payment requirements from facilitator", "error", err)
	}

	return Middleware(handler)
}

// brokenPocketBaseMiddleware refuses every request, so misconfiguration
// surfaces as loud 500s instead of an unpaid resource.
func brokenPocketBaseMiddleware(logger *slog.Logger, err error) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		logger.Error("x402 middleware misconfigured", "error", err)
		return e.JSON(http.StatusInternalServerError, map[string]any{
			"x402Version": x402.SupportedVersion,
			"error":       "Payment configuration error",
		})
	}
}

// Middleware wraps PocketBase routes with payment gating using an
// already-built PaymentHandler. Use it when the same handler serves
// several transports and should share replay and rate-limit state.
func Middleware(handler *httpx402.PaymentHandler) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		// CORS preflights carry no payment and must not be gated.
		if e.Request.Method == http.MethodOptions {
			return e.Next()
		}

		requirements := helpers.RequirementsForRequest(e.Request, handler.Requirements())

		if e.Request.Header.Get(httpx402.PaymentHeader) == "" {
			handler.Logger().Info("no payment header provided", "path", e.Request.URL.Path)
			helpers.SendPaymentRequired(e.Response, requirements, "")
			return nil
		}

		payment, err := helpers.ParsePaymentHeaderFromRequest(e.Request)
		if err != nil {
			return respondPaymentError(e, handler.Logger(), requirements, err)
		}

		requirement, err := x402.FindMatchingRequirement(payment, requirements)
		if err != nil {
			return respondPaymentError(e, handler.Logger(), requirements, err)
		}

		verifyResp, err := handler.VerifyPayload(e.Request.Context(), payment, *requirement, helpers.ClientIdentifier(e.Request))
		if err != nil {
			return respondPaymentError(e, handler.Logger(), requirements, err)
		}

		// PocketBase handlers stream their own responses, so settlement
		// runs up front rather than on first write.
		if handler.SettlementEnabled() {
			settlement, err := handler.Settle(e.Request.Context(), payment, *requirement)
			if err != nil {
				if x402.CodeOf(err) == x402.ErrCodePaymentRejected {
					helpers.SendPaymentRequired(e.Response, requirements, "settlement failed")
					return nil
				}
				return e.JSON(http.StatusServiceUnavailable, map[string]any{
					"x402Version": x402.SupportedVersion,
					"error":       "Payment settlement failed",
				})
			}
			if err := helpers.AddPaymentResponseHeader(e.Response, settlement); err != nil {
				handler.Logger().Warn("failed to add payment response header", "error", err)
			}
		}

		// Store payment info in the event store for handler access.
		e.Set(PaymentContextKey, verifyResp)

		// Also store in stdlib context for compatibility with http package helpers.
		ctx := context.WithValue(e.Request.Context(), httpx402.PaymentContextKey, verifyResp)
		e.Request = e.Request.WithContext(ctx)

		return e.Next()
	}
}

// respondPaymentError maps pipeline failures onto PocketBase responses,
// mirroring the status mapping of the stdlib middleware.
func respondPaymentError(e *core.RequestEvent, logger *slog.Logger, requirements []x402.PaymentRequirement, err error) error {
	switch x402.CodeOf(err) {
	case x402.ErrCodeValidation:
		logger.Warn("invalid payment header", "error", err)
		return e.JSON(http.StatusBadRequest, map[string]any{
			"x402Version": x402.SupportedVersion,
			"error":       "Invalid payment header",
		})
	case x402.ErrCodePaymentRejected, x402.ErrCodeReplayDetected:
		logger.Warn("payment rejected", "reason", string(x402.ReasonOf(err)), "error", err)
		helpers.SendPaymentRequired(e.Response, requirements, helpers.PaymentErrorMessage(err))
		return nil
	case x402.ErrCodeRateLimited:
		logger.Warn("payment attempts rate limited", "error", err)
		return e.JSON(http.StatusTooManyRequests, map[string]any{
			"x402Version": x402.SupportedVersion,
			"error":       "Too many payment attempts",
		})
	case x402.ErrCodeFacilitatorUnavailable:
		logger.Error("facilitator unavailable", "error", err)
		return e.JSON(http.StatusServiceUnavailable, map[string]any{
			"x402Version": x402.SupportedVersion,
			"error":       "Payment verification temporarily unavailable",
		})
	default:
		logger.Error("payment processing failed", "error", err)
		return e.JSON(http.StatusInternalServerError, map[string]any{
			"x402Version": x402.SupportedVersion,
			"error":       "Payment processing error",
		})
	}
}
