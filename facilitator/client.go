// Package facilitator provides the HTTP client for remote x402
// facilitator services, which perform cryptographic verification and
// on-chain settlement on behalf of resource servers.
//
// Every call runs inside a circuit breaker. Verify and Supported are
// idempotent and retried on transport failure; Settle moves money and is
// never retried. Upstream error detail is sanitized to a fixed category
// set before it reaches callers; raw status text and bodies go to the
// logger only.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/payguard/x402-go"
	"github.com/payguard/x402-go/breaker"
	"github.com/payguard/x402-go/encoding"
	"github.com/payguard/x402-go/retry"
	"github.com/payguard/x402-go/validation"
)

const maxResponseBytes = 1 << 20 // cap on facilitator response bodies

// ClientConfig configures a facilitator Client.
type ClientConfig struct {
	// BaseURL is the facilitator's base endpoint, e.g.
	// "https://x402.org/facilitator". Required.
	BaseURL string

	// ConnectTimeout bounds dialing and TLS handshake. Defaults to 10s.
	// Ignored when HTTPClient is set.
	ConnectTimeout time.Duration

	// VerifyTimeout bounds each /verify call. Defaults to 5s.
	VerifyTimeout time.Duration

	// SettleTimeout bounds each /settle call. Settlement waits for a
	// blockchain transaction, so this is much longer. Defaults to 60s.
	SettleTimeout time.Duration

	// SupportedTimeout bounds each /supported call. Defaults to 10s.
	SupportedTimeout time.Duration

	// Auth supplies authentication headers for each request. Optional.
	Auth AuthProvider

	// Breaker wraps all outbound calls. A default breaker is created
	// when nil.
	Breaker *breaker.Breaker

	// Retry configures backoff for Verify and Supported. Zero value
	// means retry.DefaultConfig. Settle is never retried.
	Retry retry.Config

	// Logger receives raw upstream detail. Defaults to slog.Default().
	Logger *slog.Logger

	// HTTPClient overrides the built-in transport. Optional.
	HTTPClient *http.Client
}

// Client talks to a remote facilitator over HTTP. It implements
// x402.Facilitator and is safe for concurrent use.
type Client struct {
	baseURL          string
	httpClient       *http.Client
	verifyTimeout    time.Duration
	settleTimeout    time.Duration
	supportedTimeout time.Duration
	auth             AuthProvider
	breaker          *breaker.Breaker
	retryConfig      retry.Config
	logger           *slog.Logger
}

// NewClient creates a facilitator client from cfg.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL, err := validation.SanitizeURL(cfg.BaseURL)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "invalid facilitator URL", err).
			WithDetails("url", cfg.BaseURL)
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
				TLSHandshakeTimeout: connectTimeout,
			},
		}
	}

	c := &Client{
		baseURL:          baseURL,
		httpClient:       httpClient,
		verifyTimeout:    cfg.VerifyTimeout,
		settleTimeout:    cfg.SettleTimeout,
		supportedTimeout: cfg.SupportedTimeout,
		auth:             cfg.Auth,
		breaker:          cfg.Breaker,
		retryConfig:      cfg.Retry,
		logger:           cfg.Logger,
	}
	if c.verifyTimeout <= 0 {
		c.verifyTimeout = 5 * time.Second
	}
	if c.settleTimeout <= 0 {
		c.settleTimeout = 60 * time.Second
	}
	if c.supportedTimeout <= 0 {
		c.supportedTimeout = 10 * time.Second
	}
	if c.breaker == nil {
		c.breaker = breaker.New(5, 30*time.Second, 2)
	}
	if c.retryConfig.MaxAttempts <= 0 {
		c.retryConfig = retry.DefaultConfig
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// facilitatorRequest is the body for /verify and /settle. The payment
// travels as the same base64 header string the client originally sent.
type facilitatorRequest struct {
	X402Version         int                     `json:"x402Version"`
	PaymentHeader       string                  `json:"paymentHeader"`
	PaymentRequirements x402.PaymentRequirement `json:"paymentRequirements"`
}

// isTransient reports whether an error is worth retrying. Only upstream
// unavailability qualifies; a rejected or unauthorized request will not
// get better on retry, and an open circuit must fail fast.
func isTransient(err error) bool {
	return x402.ReasonOf(err) == x402.ReasonUpstreamUnavailable
}

// Verify checks a payment authorization with the facilitator. Transport
// failures are retried with exponential backoff.
func (c *Client) Verify(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.VerifyResponse, error) {
	header, err := encoding.EncodePayment(payment)
	if err != nil {
		return nil, err
	}
	body := facilitatorRequest{
		X402Version:         x402.SupportedVersion,
		PaymentHeader:       header,
		PaymentRequirements: requirement,
	}

	return retry.WithRetry(ctx, c.retryConfig, isTransient, func() (*x402.VerifyResponse, error) {
		var out x402.VerifyResponse
		if err := c.call(ctx, http.MethodPost, "/verify", c.verifyTimeout, body, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// Settle executes a verified payment on the blockchain. Settlement is
// never retried: a timed-out settle may still have landed on chain, and
// resubmitting would double-charge the payer.
func (c *Client) Settle(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error) {
	header, err := encoding.EncodePayment(payment)
	if err != nil {
		return nil, err
	}
	body := facilitatorRequest{
		X402Version:         x402.SupportedVersion,
		PaymentHeader:       header,
		PaymentRequirements: requirement,
	}

	var out x402.SettlementResponse
	if err := c.call(ctx, http.MethodPost, "/settle", c.settleTimeout, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Supported queries the facilitator's supported configuration. Transport
// failures are retried with exponential backoff.
func (c *Client) Supported(ctx context.Context) (*x402.SupportedResponse, error) {
	return retry.WithRetry(ctx, c.retryConfig, isTransient, func() (*x402.SupportedResponse, error) {
		var out x402.SupportedResponse
		if err := c.call(ctx, http.MethodGet, "/supported", c.supportedTimeout, nil, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// EnrichRequirements merges facilitator-provided extras from /supported
// (for example the feePayer for transaction-based networks) into the
// given requirements. Values already present in a requirement win. The
// input is returned unchanged when the facilitator cannot be reached.
func (c *Client) EnrichRequirements(ctx context.Context, requirements []x402.PaymentRequirement) ([]x402.PaymentRequirement, error) {
	supported, err := c.Supported(ctx)
	if err != nil {
		return requirements, err
	}

	enriched := make([]x402.PaymentRequirement, len(requirements))
	for i, req := range requirements {
		enriched[i] = req

		extras, ok := supported.Features[req.Network].(map[string]interface{})
		if !ok {
			continue
		}
		if enriched[i].Extra == nil {
			enriched[i].Extra = make(map[string]interface{}, len(extras))
		}
		for k, v := range extras {
			if _, exists := enriched[i].Extra[k]; !exists {
				enriched[i].Extra[k] = v
			}
		}
	}
	return enriched, nil
}

// call performs one HTTP exchange under the circuit breaker and decodes
// the response into out.
func (c *Client) call(ctx context.Context, method, path string, timeout time.Duration, body, out interface{}) error {
	err := c.breaker.Do(ctx, func() error {
		return c.roundTrip(ctx, method, path, timeout, body, out)
	})
	if errors.Is(err, breaker.ErrOpen) {
		return x402.NewPaymentError(x402.ErrCodeFacilitatorUnavailable, "facilitator circuit open", x402.ErrCircuitOpen).
			WithReason(x402.ReasonCircuitOpen).
			WithDetails("path", path)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, timeout time.Duration, body, out interface{}) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return x402.NewPaymentError(x402.ErrCodeConfiguration, "failed to encode facilitator request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reader)
	if err != nil {
		return x402.NewPaymentError(x402.ErrCodeConfiguration, "failed to build facilitator request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if c.auth != nil {
		if err := c.auth.Apply(req); err != nil {
			return x402.NewPaymentError(x402.ErrCodeConfiguration, "facilitator authentication failed", err).
				WithReason(x402.ReasonAuthFailure)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("facilitator request failed", "method", method, "path", path, "error", err)
		return x402.NewPaymentError(x402.ErrCodeFacilitatorUnavailable, "facilitator unreachable", x402.ErrFacilitatorUnavailable).
			WithReason(x402.ReasonUpstreamUnavailable).
			WithDetails("path", path)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseBytes)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(limited)
		c.logger.Warn("facilitator returned error status",
			"method", method, "path", path, "status", resp.StatusCode, "body", string(raw))

		reason, msg := categorizeStatus(resp.StatusCode)
		return x402.NewPaymentError(x402.ErrCodeFacilitatorUnavailable, msg, x402.ErrFacilitatorUnavailable).
			WithReason(reason).
			WithDetails("path", path).
			WithDetails("status", strconv.Itoa(resp.StatusCode))
	}

	if err := json.NewDecoder(limited).Decode(out); err != nil {
		c.logger.Warn("facilitator returned unreadable body", "method", method, "path", path, "error", err)
		return x402.NewPaymentError(x402.ErrCodeFacilitatorUnavailable, "facilitator returned an unreadable response", x402.ErrFacilitatorUnavailable).
			WithReason(x402.ReasonUnknown).
			WithDetails("path", path)
	}
	return nil
}

// categorizeStatus folds upstream status codes into the fixed category
// set exposed to callers.
func categorizeStatus(status int) (x402.Reason, string) {
	switch {
	case status == http.StatusBadRequest:
		return x402.ReasonBadRequest, "facilitator rejected the request"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return x402.ReasonAuthFailure, "facilitator authentication failed"
	case status == http.StatusNotFound:
		return x402.ReasonNotFound, "facilitator endpoint not found"
	case status == http.StatusTooManyRequests:
		return x402.ReasonUpstreamRateLimited, "facilitator rate limited the request"
	case status >= 500:
		return x402.ReasonUpstreamUnavailable, "facilitator unavailable"
	default:
		return x402.ReasonUnknown, fmt.Sprintf("facilitator returned unexpected status %d", status)
	}
}

var _ x402.Facilitator = (*Client)(nil)
