// Package http provides net/http payment gating for the x402 protocol:
// a middleware that answers unpaid requests with 402 Payment Required and
// settles verified payments at the moment the wrapped handler commits a
// success response.
package http

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/payguard/x402-go"
	"github.com/payguard/x402-go/encoding"
	"github.com/payguard/x402-go/internal/helpers"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// PaymentContextKey is the context key under which the middleware stores
// the *x402.VerifyResponse for the verified payment.
const PaymentContextKey = contextKey("x402_payment")

// PaymentFromContext returns the verified payment stored by the
// middleware, or nil when the request was not payment-gated.
func PaymentFromContext(ctx context.Context) *x402.VerifyResponse {
	resp, _ := ctx.Value(PaymentContextKey).(*x402.VerifyResponse)
	return resp
}

// NewX402Middleware creates payment-gating middleware around a
// PaymentHandler built from config. Requirements are enriched from the
// facilitator's /supported endpoint at startup. A misconfigured handler
// yields a middleware that fails every request with 500 rather than
// serving the resource unpaid.
func NewX402Middleware(config *Config) func(http.Handler) http.Handler {
	handler, err := NewPaymentHandler(config)
	if err != nil {
		return brokenMiddleware(slog.Default(), err)
	}
	if len(handler.requirements) == 0 {
		return brokenMiddleware(handler.logger, x402.NewPaymentError(x402.ErrCodeConfiguration, "middleware requires at least one payment requirement", nil))
	}

	ctx, cancel := context.WithTimeout(context.Background(), x402.DefaultTimeouts.RequestTimeout)
	defer cancel()
	if err := handler.EnrichRequirements(ctx); err != nil {
		handler.logger.Warn("failed to enrich payment requirements from facilitator", "error", err)
	}

	return Middleware(handler)
}

// Middleware wraps handlers with payment gating using an already-built
// PaymentHandler. Adapters for other routers build on this.
func Middleware(handler *PaymentHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// CORS preflights carry no payment and must not be gated.
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			logger := handler.logger
			requirements := helpers.RequirementsForRequest(r, handler.requirements)

			paymentHeader := r.Header.Get(PaymentHeader)
			if paymentHeader == "" {
				logger.Info("no payment header provided", "path", r.URL.Path)
				helpers.SendPaymentRequired(w, requirements, "")
				return
			}

			payment, err := encoding.DecodePayment(paymentHeader)
			if err != nil {
				writePaymentError(w, logger, requirements, err)
				return
			}

			requirement, err := x402.FindMatchingRequirement(payment, requirements)
			if err != nil {
				writePaymentError(w, logger, requirements, err)
				return
			}

			verifyResp, err := handler.verifyPayment(r.Context(), payment, *requirement, helpers.ClientIdentifier(r))
			if err != nil {
				writePaymentError(w, logger, requirements, err)
				return
			}

			r = r.WithContext(context.WithValue(r.Context(), PaymentContextKey, verifyResp))

			interceptor := &settlementInterceptor{
				w: w,
				settleFunc: func() bool {
					if !handler.SettlementEnabled() {
						return true
					}
					settlement, err := handler.Settle(r.Context(), payment, *requirement)
					if err != nil {
						if x402.CodeOf(err) == x402.ErrCodePaymentRejected {
							helpers.SendPaymentRequired(w, requirements, "settlement failed")
						} else {
							http.Error(w, "Payment settlement failed", http.StatusServiceUnavailable)
						}
						return false
					}
					if err := helpers.AddPaymentResponseHeader(w, settlement); err != nil {
						logger.Warn("failed to add payment response header", "error", err)
					}
					return true
				},
				onSkip: func(statusCode int) {
					logger.Warn("handler returned non-success, skipping settlement", "status", statusCode)
				},
			}
			next.ServeHTTP(interceptor, r)
		})
	}
}

// writePaymentError maps pipeline failures onto HTTP statuses: malformed
// input is the client's fault (400), a rejected or replayed payment gets a
// fresh 402 challenge, throttled callers get 429, facilitator outages 503,
// and everything else is a server-side 500.
func writePaymentError(w http.ResponseWriter, logger *slog.Logger, requirements []x402.PaymentRequirement, err error) {
	switch x402.CodeOf(err) {
	case x402.ErrCodeValidation:
		logger.Warn("invalid payment header", "error", err)
		http.Error(w, "Invalid payment header", http.StatusBadRequest)
	case x402.ErrCodePaymentRejected, x402.ErrCodeReplayDetected:
		logger.Warn("payment rejected", "reason", string(x402.ReasonOf(err)), "error", err)
		helpers.SendPaymentRequired(w, requirements, helpers.PaymentErrorMessage(err))
	case x402.ErrCodeRateLimited:
		logger.Warn("payment attempts rate limited", "error", err)
		http.Error(w, "Too many payment attempts", http.StatusTooManyRequests)
	case x402.ErrCodeFacilitatorUnavailable:
		logger.Error("facilitator unavailable", "error", err)
		http.Error(w, "Payment verification temporarily unavailable", http.StatusServiceUnavailable)
	default:
		logger.Error("payment processing failed", "error", err)
		http.Error(w, "Payment processing error", http.StatusInternalServerError)
	}
}

// brokenMiddleware refuses every request. Used when middleware
// construction fails, so misconfiguration surfaces as loud 500s instead
// of an unpaid resource.
func brokenMiddleware(logger *slog.Logger, err error) func(http.Handler) http.Handler {
	return func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Error("x402 middleware misconfigured", "error", err)
			http.Error(w, "Payment configuration error", http.StatusInternalServerError)
		})
	}
}

// settlementInterceptor wraps the ResponseWriter to intercept the moment
// of commitment: settlement runs when the wrapped handler first writes a
// success status, so a failed handler never charges the payer and a failed
// settlement never serves the resource.
type settlementInterceptor struct {
	w http.ResponseWriter
	// settleFunc performs settlement and reports whether the handler's
	// response may proceed. On failure it has already written the error
	// response.
	settleFunc func() bool
	// onSkip is called when the handler status suppresses settlement.
	onSkip    func(statusCode int)
	committed bool
	hijacked  bool
}

func (i *settlementInterceptor) Header() http.Header {
	return i.w.Header()
}

func (i *settlementInterceptor) Write(b []byte) (int, error) {
	// Write without WriteHeader implies 200 OK; commit now.
	if !i.committed {
		i.WriteHeader(http.StatusOK)
	}

	// After a hijack the error response is already on the wire. Discard
	// the handler's payload so the client never sees a mixed response.
	if i.hijacked {
		return len(b), nil
	}

	return i.w.Write(b)
}

func (i *settlementInterceptor) WriteHeader(statusCode int) {
	if i.committed {
		return
	}
	i.committed = true

	// Handler errors pass through untouched; the payer is not charged for
	// a failed response.
	if statusCode >= 400 {
		if i.onSkip != nil {
			i.onSkip(statusCode)
		}
		i.w.WriteHeader(statusCode)
		return
	}

	if !i.settleFunc() {
		i.hijacked = true
		return
	}

	// Settlement succeeded and X-PAYMENT-RESPONSE is set; release the
	// handler's status line.
	i.w.WriteHeader(statusCode)
}

// Flush implements http.Flusher to support streaming responses. Flushing
// commits the response, so settlement runs before the first byte leaves.
func (i *settlementInterceptor) Flush() {
	if !i.committed {
		i.WriteHeader(http.StatusOK)
	}
	if i.hijacked {
		return
	}
	if flusher, ok := i.w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker to support connection takeover.
func (i *settlementInterceptor) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := i.w.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, errors.New("hijacking not supported")
}

// Push passes HTTP/2 server push through to the underlying writer.
func (i *settlementInterceptor) Push(target string, opts *http.PushOptions) error {
	if pusher, ok := i.w.(http.Pusher); ok {
		return pusher.Push(target, opts)
	}
	return http.ErrNotSupported
}
