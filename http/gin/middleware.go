// Package gin provides Gin-compatible middleware for x402 payment gating.
// It translates gin.Context to stdlib http patterns and delegates all
// verification and settlement logic to the http package.
package gin

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/payguard/x402-go"
	httpx402 "github.com/payguard/x402-go/http"
	"github.com/payguard/x402-go/internal/helpers"
)

// PaymentContextKey is the Gin context key under which the middleware
// stores the *x402.VerifyResponse for the verified payment.
const PaymentContextKey = "x402_payment"

// NewGinX402Middleware creates a new x402 payment middleware for Gin.
// It returns a Gin-compatible middleware function that wraps handlers with
// payment gating.
//
// The middleware:
//   - Bypasses OPTIONS requests for CORS preflight support
//   - Checks for X-PAYMENT header in requests
//   - Returns 402 Payment Required if missing or invalid
//   - Runs the full verification pipeline (authorization checks, replay
//     protection, rate limiting, facilitator verification)
//   - Settles payments before the handler runs (unless VerifyOnly=true)
//   - Stores payment information in Gin context via c.Set("x402_payment", verifyResp)
//   - Calls c.Abort() on payment failure to stop the handler chain
//   - Calls c.Next() on payment success to proceed to the protected handler
//
// Example usage:
//
//	req, _ := x402.NewUSDCPaymentRequirement(x402.USDCRequirementConfig{
//	    Chain:            x402.BaseSepolia,
//	    Amount:           "0.01",
//	    RecipientAddress: "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//	})
//	r := gin.Default()
//	r.Use(NewGinX402Middleware(&httpx402.Config{
//	    FacilitatorURL:      "https://api.x402.coinbase.com",
//	    PaymentRequirements: []x402.PaymentRequirement{req},
//	}))
//	r.GET("/protected", func(c *gin.Context) {
//	    if payment, exists := c.Get("x402_payment"); exists {
//	        verifyResp := payment.(*x402.VerifyResponse)
//	        c.JSON(200, gin.H{"payer": verifyResp.Payer})
//	    }
//	})
func NewGinX402Middleware(config *httpx402.Config) gin.HandlerFunc {
	handler, err := httpx402.NewPaymentHandler(config)
	if err != nil {
		return brokenGinMiddleware(slog.Default(), err)
	}
	if len(handler.Requirements()) == 0 {
		return brokenGinMiddleware(handler.Logger(), x402.NewPaymentError(x402.ErrCodeConfiguration, "middleware requires at least one payment requirement", nil))
	}

	ctx, cancel := context.WithTimeout(context.Background(), x402.DefaultTimeouts.RequestTimeout)
	defer cancel()
	if err := handler.EnrichRequirements(ctx); err != nil {
		handler.Logger().Warn("failed to enrich payment requirements from facilitator", "error", err)
	}

	return Middleware(handler)
}

// brokenGinMiddleware refuses every request, so misconfiguration surfaces
// as loud 500s instead of an unpaid resource.
func brokenGinMiddleware(logger *slog.Logger, err error) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger.Error("x402 middleware misconfigured", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"x402Version": x402.SupportedVersion,
			"error":       "Payment configuration error",
		})
	}
}

// Middleware wraps Gin handlers with payment gating using an
// already-built PaymentHandler. Use it when the same handler serves
// several transports and should share replay and rate-limit state.
func Middleware(handler *httpx402.PaymentHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		// CORS preflights carry no payment and must not be gated.
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		requirements := helpers.RequirementsForRequest(c.Request, handler.Requirements())

		if c.GetHeader(httpx402.PaymentHeader) == "" {
			handler.Logger().Info("no payment header provided", "path", c.Request.URL.Path)
			helpers.SendPaymentRequired(c.Writer, requirements, "")
			c.Abort()
			return
		}

		payment, err := helpers.ParsePaymentHeaderFromRequest(c.Request)
		if err != nil {
			abortPaymentError(c, handler.Logger(), requirements, err)
			return
		}

		requirement, err := x402.FindMatchingRequirement(payment, requirements)
		if err != nil {
			abortPaymentError(c, handler.Logger(), requirements, err)
			return
		}

		verifyResp, err := handler.VerifyPayload(c.Request.Context(), payment, *requirement, helpers.ClientIdentifier(c.Request))
		if err != nil {
			abortPaymentError(c, handler.Logger(), requirements, err)
			return
		}

		// Gin handlers stream their own responses, so settlement runs up
		// front rather than on first write.
		if handler.SettlementEnabled() {
			settlement, err := handler.Settle(c.Request.Context(), payment, *requirement)
			if err != nil {
				if x402.CodeOf(err) == x402.ErrCodePaymentRejected {
					helpers.SendPaymentRequired(c.Writer, requirements, "settlement failed")
					c.Abort()
				} else {
					c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
						"x402Version": x402.SupportedVersion,
						"error":       "Payment settlement failed",
					})
				}
				return
			}
			if err := helpers.AddPaymentResponseHeader(c.Writer, settlement); err != nil {
				handler.Logger().Warn("failed to add payment response header", "error", err)
			}
		}

		// Store payment info in Gin context for handler access.
		c.Set(PaymentContextKey, verifyResp)

		// Also store in stdlib context for compatibility with http package helpers.
		ctx := context.WithValue(c.Request.Context(), httpx402.PaymentContextKey, verifyResp)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// abortPaymentError maps pipeline failures onto Gin responses, mirroring
// the status mapping of the stdlib middleware.
func abortPaymentError(c *gin.Context, logger *slog.Logger, requirements []x402.PaymentRequirement, err error) {
	switch x402.CodeOf(err) {
	case x402.ErrCodeValidation:
		logger.Warn("invalid payment header", "error", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"x402Version": x402.SupportedVersion,
			"error":       "Invalid payment header",
		})
	case x402.ErrCodePaymentRejected, x402.ErrCodeReplayDetected:
		logger.Warn("payment rejected", "reason", string(x402.ReasonOf(err)), "error", err)
		helpers.SendPaymentRequired(c.Writer, requirements, helpers.PaymentErrorMessage(err))
		c.Abort()
	case x402.ErrCodeRateLimited:
		logger.Warn("payment attempts rate limited", "error", err)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"x402Version": x402.SupportedVersion,
			"error":       "Too many payment attempts",
		})
	case x402.ErrCodeFacilitatorUnavailable:
		logger.Error("facilitator unavailable", "error", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"x402Version": x402.SupportedVersion,
			"error":       "Payment verification temporarily unavailable",
		})
	default:
		logger.Error("payment processing failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"x402Version": x402.SupportedVersion,
			"error":       "Payment processing error",
		})
	}
}
