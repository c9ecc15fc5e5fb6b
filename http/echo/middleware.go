// Package echo provides Echo-compatible middleware for x402 payment gating.
// It translates echo.Context to stdlib http patterns and delegates all
// verification and settlement logic to the http package.
package echo

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/payguard/x402-go"
	httpx402 "github.com/payguard/x402-go/http"
	"github.com/payguard/x402-go/internal/helpers"
)

// PaymentContextKey is the Echo context key under which the middleware
// stores the *x402.VerifyResponse for the verified payment.
const PaymentContextKey = "x402_payment"

// NewEchoX402Middleware creates a new x402 payment middleware for Echo.
// It returns an echo.MiddlewareFunc that wraps handlers with payment
// gating.
//
// The middleware:
//   - Bypasses OPTIONS requests for CORS preflight support
//   - Checks for X-PAYMENT header in requests
//   - Returns 402 Payment Required if missing or invalid
//   - Runs the full verification pipeline (authorization checks, replay
//     protection, rate limiting, facilitator verification)
//   - Settles payments before the handler runs (unless VerifyOnly=true)
//   - Stores payment information in Echo context via c.Set("x402_payment", verifyResp)
//
// Example usage:
//
//	req, _ := x402.NewUSDCPaymentRequirement(x402.USDCRequirementConfig{
//	    Chain:            x402.BaseSepolia,
//	    Amount:           "0.01",
//	    RecipientAddress: "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//	})
//	e := echo.New()
//	e.Use(NewEchoX402Middleware(&httpx402.Config{
//	    FacilitatorURL:      "https://api.x402.coinbase.com",
//	    PaymentRequirements: []x402.PaymentRequirement{req},
//	}))
//	e.GET("/protected", func(c echo.Context) error {
//	    verifyResp := c.Get("x402_payment").(*x402.VerifyResponse)
//	    return c.JSON(200, map[string]string{"payer": verifyResp.Payer})
//	})
func NewEchoX402Middleware(config *httpx402.Config) echo.MiddlewareFunc {
	handler, err := httpx402.NewPaymentHandler(config)
	if err != nil {
		return brokenEchoMiddleware(slog.Default(), err)
	}
	if len(handler.Requirements()) == 0 {
		return brokenEchoMiddleware(handler.Logger(), x402.NewPaymentError(x402.ErrCodeConfiguration, "middleware requires at least one payment requirement", nil))
	}

	ctx, cancel := context.WithTimeout(context.Background(), x402.DefaultTimeouts.RequestTimeout)
	defer cancel()
	if err := handler.EnrichRequirements(ctx); err != nil {
		handler.Logger().Warn("failed to enrich payment requirements from facilitator", "error", err)
	}

	return Middleware(handler)
}

// brokenEchoMiddleware refuses every request, so misconfiguration surfaces
// as loud 500s instead of an unpaid resource.
func brokenEchoMiddleware(logger *slog.Logger, err error) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			logger.Error("x402 middleware misconfigured", "error", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{
				"x402Version": x402.SupportedVersion,
				"error":       "Payment configuration error",
			})
		}
	}
}

// Middleware wraps Echo handlers with payment gating using an
// already-built PaymentHandler. Use it when the same handler serves
// several transports and should share replay and rate-limit state.
func Middleware(handler *httpx402.PaymentHandler) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// CORS preflights carry no payment and must not be gated.
			if c.Request().Method == http.MethodOptions {
				return next(c)
			}

			r := c.Request()
			requirements := helpers.RequirementsForRequest(r, handler.Requirements())

			if r.Header.Get(httpx402.PaymentHeader) == "" {
				handler.Logger().Info("no payment header provided", "path", r.URL.Path)
				helpers.SendPaymentRequired(c.Response(), requirements, "")
				return nil
			}

			payment, err := helpers.ParsePaymentHeaderFromRequest(r)
			if err != nil {
				return respondPaymentError(c, handler.Logger(), requirements, err)
			}

			requirement, err := x402.FindMatchingRequirement(payment, requirements)
			if err != nil {
				return respondPaymentError(c, handler.Logger(), requirements, err)
			}

			verifyResp, err := handler.VerifyPayload(r.Context(), payment, *requirement, helpers.ClientIdentifier(r))
			if err != nil {
				return respondPaymentError(c, handler.Logger(), requirements, err)
			}

			// Echo handlers stream their own responses, so settlement runs
			// up front rather than on first write.
			if handler.SettlementEnabled() {
				settlement, err := handler.Settle(r.Context(), payment, *requirement)
				if err != nil {
					if x402.CodeOf(err) == x402.ErrCodePaymentRejected {
						helpers.SendPaymentRequired(c.Response(), requirements, "settlement failed")
						return nil
					}
					return c.JSON(http.StatusServiceUnavailable, echo.Map{
						"x402Version": x402.SupportedVersion,
						"error":       "Payment settlement failed",
					})
				}
				if err := helpers.AddPaymentResponseHeader(c.Response(), settlement); err != nil {
					handler.Logger().Warn("failed to add payment response header", "error", err)
				}
			}

			// Store payment info in Echo context for handler access.
			c.Set(PaymentContextKey, verifyResp)

			// Also store in stdlib context for compatibility with http package helpers.
			ctx := context.WithValue(r.Context(), httpx402.PaymentContextKey, verifyResp)
			c.SetRequest(r.WithContext(ctx))

			return next(c)
		}
	}
}

// respondPaymentError maps pipeline failures onto Echo responses,
// mirroring the status mapping of the stdlib middleware.
func respondPaymentError(c echo.Context, logger *slog.Logger, requirements []x402.PaymentRequirement, err error) error {
	switch x402.CodeOf(err) {
	case x402.ErrCodeValidation:
		logger.Warn("invalid payment header", "error", err)
		return c.JSON(http.StatusBadRequest, echo.Map{
			"x402Version": x402.SupportedVersion,
			"error":       "Invalid payment header",
		})
	case x402.ErrCodePaymentRejected, x402.ErrCodeReplayDetected:
		logger.Warn("payment rejected", "reason", string(x402.ReasonOf(err)), "error", err)
		helpers.SendPaymentRequired(c.Response(), requirements, helpers.PaymentErrorMessage(err))
		return nil
	case x402.ErrCodeRateLimited:
		logger.Warn("payment attempts rate limited", "error", err)
		return c.JSON(http.StatusTooManyRequests, echo.Map{
			"x402Version": x402.SupportedVersion,
			"error":       "Too many payment attempts",
		})
	case x402.ErrCodeFacilitatorUnavailable:
		logger.Error("facilitator unavailable", "error", err)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{
			"x402Version": x402.SupportedVersion,
			"error":       "Payment verification temporarily unavailable",
		})
	default:
		logger.Error("payment processing failed", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"x402Version": x402.SupportedVersion,
			"error":       "Payment processing error",
		})
	}
}
