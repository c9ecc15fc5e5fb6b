package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/payguard/x402-go"
	"github.com/payguard/x402-go/encoding"
	"github.com/payguard/x402-go/facilitator"
	"github.com/payguard/x402-go/internal/helpers"
	"github.com/payguard/x402-go/nonce"
	"github.com/payguard/x402-go/ratelimit"
	"github.com/payguard/x402-go/validation"
)

// Protocol header names.
const (
	// PaymentHeader carries the client's base64-encoded payment payload.
	PaymentHeader = "X-PAYMENT"

	// PaymentResponseHeader carries the base64-encoded settlement result.
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"
)

// OnBeforeFunc runs before a verify or settle call reaches the facilitator.
type OnBeforeFunc func(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement)

// OnAfterVerifyFunc runs after a verification attempt completes.
type OnAfterVerifyFunc func(ctx context.Context, payment x402.PaymentPayload, response *x402.VerifyResponse, err error)

// OnAfterSettleFunc runs after a settlement attempt completes.
type OnAfterSettleFunc func(ctx context.Context, payment x402.PaymentPayload, response *x402.SettlementResponse, err error)

// Config holds the configuration for the payment handler and middleware.
type Config struct {
	// PaymentRequirements defines the accepted payment methods.
	PaymentRequirements []x402.PaymentRequirement

	// FacilitatorURL is the primary facilitator endpoint. Ignored when
	// Facilitator is set.
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

	// ConfirmationBuffer is how much validity an authorization must have
	// left beyond now, so it cannot expire while settlement confirms.
	// Defaults to 6s.
	ConfirmationBuffer time.Duration

	// Production enforces deployment hygiene: a facilitator must be
	// configured and facilitator URLs must be HTTPS.
	Production bool

	// VerifyOnly skips settlement (payments are verified but never
	// executed).
	VerifyOnly bool

	// Facilitator lifecycle hooks.
	OnBeforeVerify OnBeforeFunc
	OnAfterVerify  OnAfterVerifyFunc
	OnBeforeSettle OnBeforeFunc
	OnAfterSettle  OnAfterSettleFunc
}

// PaymentHandler orchestrates the payment verification pipeline: decode,
// match, authorization checks, compliance, replay protection, rate
// limiting, facilitator verification, and settlement. It is stateless
// between requests apart from the injected stores and safe for concurrent
// use.
type PaymentHandler struct {
	requirements       []x402.PaymentRequirement
	facilitator        x402.Facilitator
	fallback           x402.Facilitator
	nonces             nonce.Tracker
	limiter            ratelimit.Limiter
	compliance         x402.ComplianceChecker
	metrics            x402.MetricsSink
	logger             *slog.Logger
	confirmationBuffer time.Duration
	verifyOnly         bool
	onBeforeVerify     OnBeforeFunc
	onAfterVerify      OnAfterVerifyFunc
	onBeforeSettle     OnBeforeFunc
	onAfterSettle      OnAfterSettleFunc
	now                func() time.Time
}

// NewPaymentHandler validates config and builds the orchestrator.
func NewPaymentHandler(config *Config) (*PaymentHandler, error) {
	if config == nil {
		return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "config must not be nil", nil)
	}
	if config.ConfirmationBuffer < 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "confirmation buffer must not be negative", nil).
			WithDetails("buffer", config.ConfirmationBuffer.String())
	}
	if config.Production {
		if config.Facilitator == nil && config.FacilitatorURL == "" {
			return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "production requires a facilitator", x402.ErrFacilitatorRequired).
				WithReason(x402.ReasonFacilitatorRequired)
		}
		for _, u := range []string{config.FacilitatorURL, config.FallbackFacilitatorURL} {
			if u != "" && !strings.HasPrefix(u, "https://") {
				return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "production facilitator URLs must use https", nil).
					WithDetails("url", u)
			}
		}
	}

	timeouts := config.Timeouts
	if timeouts == (x402.TimeoutConfig{}) {
		timeouts = x402.DefaultTimeouts
	}
	if err := timeouts.Validate(); err != nil {
		return nil, err
	}

	for i := range config.PaymentRequirements {
		if err := validation.ValidatePaymentRequirement(config.PaymentRequirements[i]); err != nil {
			return nil, err
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fac := config.Facilitator
	if fac == nil && config.FacilitatorURL != "" {
		client, err := facilitator.NewClient(facilitator.ClientConfig{
			BaseURL:       config.FacilitatorURL,
			VerifyTimeout: timeouts.VerifyTimeout,
			SettleTimeout: timeouts.SettleTimeout,
			Auth:          config.FacilitatorAuth,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		fac = client
	}

	var fallback x402.Facilitator
	if config.FallbackFacilitatorURL != "" {
		client, err := facilitator.NewClient(facilitator.ClientConfig{
			BaseURL:       config.FallbackFacilitatorURL,
			VerifyTimeout: timeouts.VerifyTimeout,
			SettleTimeout: timeouts.SettleTimeout,
			Auth:          config.FallbackFacilitatorAuth,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		fallback = client
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = x402.NopMetrics{}
	}

	buffer := config.ConfirmationBuffer
	if buffer == 0 {
		buffer = 6 * time.Second
	}

	requirements := make([]x402.PaymentRequirement, len(config.PaymentRequirements))
	copy(requirements, config.PaymentRequirements)

	return &PaymentHandler{
		requirements:       requirements,
		facilitator:        fac,
		fallback:           fallback,
		nonces:             config.NonceTracker,
		limiter:            config.RateLimiter,
		compliance:         config.Compliance,
		metrics:            metrics,
		logger:             logger,
		confirmationBuffer: buffer,
		verifyOnly:         config.VerifyOnly,
		onBeforeVerify:     config.OnBeforeVerify,
		onAfterVerify:      config.OnAfterVerify,
		onBeforeSettle:     config.OnBeforeSettle,
		onAfterSettle:      config.OnAfterSettle,
		now:                time.Now,
	}, nil
}

// Requirements returns a copy of the configured payment requirements.
func (h *PaymentHandler) Requirements() []x402.PaymentRequirement {
	out := make([]x402.PaymentRequirement, len(h.requirements))
	copy(out, h.requirements)
	return out
}

// VerifyOnly reports whether settlement is disabled.
func (h *PaymentHandler) VerifyOnly() bool {
	return h.verifyOnly
}

// SettlementEnabled reports whether verified payments will be settled: a
// facilitator is configured and VerifyOnly is unset.
func (h *PaymentHandler) SettlementEnabled() bool {
	return !h.verifyOnly && h.facilitator != nil
}

// Logger returns the handler's structured logger, for adapters that log
// around the pipeline.
func (h *PaymentHandler) Logger() *slog.Logger {
	return h.logger
}

// EnrichRequirements merges facilitator-advertised extras (such as feePayer
// addresses for transaction-based networks) into the configured
// requirements. Call once at startup, before the handler serves requests.
func (h *PaymentHandler) EnrichRequirements(ctx context.Context) error {
	enriched, err := h.EnrichRequirementList(ctx, h.requirements)
	if err != nil {
		return err
	}
	h.requirements = enriched
	return nil
}

// EnrichRequirementList runs the facilitator's enrichment hook over the
// given requirements. Facilitators without the hook return the input
// unchanged; integrations that keep their own requirement tables (such as
// the MCP server) enrich them through this.
func (h *PaymentHandler) EnrichRequirementList(ctx context.Context, requirements []x402.PaymentRequirement) ([]x402.PaymentRequirement, error) {
	type enricher interface {
		EnrichRequirements(ctx context.Context, requirements []x402.PaymentRequirement) ([]x402.PaymentRequirement, error)
	}
	e, ok := h.facilitator.(enricher)
	if !ok {
		return requirements, nil
	}
	return e.EnrichRequirements(ctx, requirements)
}

// RequirementSpec is the input for CreateRequirements.
type RequirementSpec struct {
	Scheme            string // defaults to "exact"
	Network           string
	Amount            string // atomic units of the asset
	Asset             string
	PayTo             string
	Resource          string
	Description       string
	MimeType          string
	MaxTimeoutSeconds int // defaults to 300
	Extra             map[string]interface{}
}

// CreateRequirements builds a validated, sanitized payment requirement
// from spec. Account-based networks must carry EIP-712 domain parameters
// in Extra ("name" and "version").
func (h *PaymentHandler) CreateRequirements(spec RequirementSpec) (x402.PaymentRequirement, error) {
	scheme := spec.Scheme
	if scheme == "" {
		scheme = "exact"
	}
	timeout := spec.MaxTimeoutSeconds
	if timeout == 0 {
		timeout = 300
	}
	mimeType := spec.MimeType
	if mimeType == "" {
		mimeType = "application/json"
	}

	req := x402.PaymentRequirement{
		Scheme:            scheme,
		Network:           spec.Network,
		MaxAmountRequired: spec.Amount,
		Asset:             spec.Asset,
		PayTo:             spec.PayTo,
		Description:       validation.SanitizeString(spec.Description, 256),
		MimeType:          mimeType,
		MaxTimeoutSeconds: timeout,
		Extra:             spec.Extra,
	}

	if spec.Resource != "" {
		resource, err := validation.SanitizeURL(spec.Resource)
		if err != nil {
			return x402.PaymentRequirement{}, err
		}
		req.Resource = resource
	}

	if err := validation.ValidatePaymentRequirement(req); err != nil {
		return x402.PaymentRequirement{}, err
	}
	return req, nil
}

// Verify runs the full verification pipeline on a raw X-PAYMENT header
// value against one requirement. identifier keys the rate limiter
// (typically the client IP); pass "" to skip rate limiting for this call.
func (h *PaymentHandler) Verify(ctx context.Context, header string, requirement x402.PaymentRequirement, identifier string) (*x402.PaymentPayload, error) {
	payment, err := encoding.DecodePayment(header)
	if err != nil {
		return nil, err
	}
	if _, err := h.verifyPayment(ctx, payment, requirement, identifier); err != nil {
		return nil, err
	}
	return &payment, nil
}

// VerifyPayload runs the verification pipeline on an already-decoded
// payload, validating it structurally first. Used by transports that do
// not carry the payment as an HTTP header.
func (h *PaymentHandler) VerifyPayload(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement, identifier string) (*x402.VerifyResponse, error) {
	if err := validation.ValidatePaymentPayload(payment); err != nil {
		return nil, err
	}
	return h.verifyPayment(ctx, payment, requirement, identifier)
}

// verifyPayment is the ordered pipeline behind Verify and VerifyPayload.
// The payload must already be structurally valid.
func (h *PaymentHandler) verifyPayment(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement, identifier string) (*x402.VerifyResponse, error) {
	start := h.now()
	tags := map[string]string{"network": payment.Network, "scheme": payment.Scheme}
	h.metrics.Count("x402.verify.attempts", 1, tags)

	resp, err := h.runVerify(ctx, payment, requirement, identifier)

	h.metrics.Timing("x402.verify.duration", h.now().Sub(start), tags)
	if err != nil {
		h.metrics.Count("x402.verify.failure", 1, tags)
		h.logger.Warn("payment verification failed",
			"network", payment.Network, "scheme", payment.Scheme,
			"reason", string(x402.ReasonOf(err)), "error", err)
		return nil, err
	}
	h.metrics.Count("x402.verify.success", 1, tags)
	h.logger.Info("payment verified", "network", payment.Network, "payer", resp.Payer)
	return resp, nil
}

func (h *PaymentHandler) runVerify(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement, identifier string) (*x402.VerifyResponse, error) {
	// Scheme and network must match the requirement exactly.
	if payment.Scheme != requirement.Scheme {
		return nil, x402.NewPaymentError(x402.ErrCodePaymentRejected, "payment scheme does not match requirement", x402.ErrUnsupportedScheme).
			WithReason(x402.ReasonUnsupportedScheme).
			WithDetails("scheme", payment.Scheme)
	}
	if payment.Network != requirement.Network {
		return nil, x402.NewPaymentError(x402.ErrCodePaymentRejected, "payment network does not match requirement", x402.ErrUnsupportedNetwork).
			WithReason(x402.ReasonUnsupportedNetwork).
			WithDetails("network", payment.Network)
	}

	if err := h.checkAuthorization(payment, requirement); err != nil {
		return nil, err
	}

	if h.compliance != nil {
		if err := h.checkCompliance(ctx, payment); err != nil {
			return nil, err
		}
	}

	replayKey := replayKeyOf(payment)

	// Fast replay pre-check. The authoritative check is the atomic mark
	// after verification.
	if h.nonces != nil {
		used, err := h.nonces.Has(ctx, replayKey)
		if err != nil {
			return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "nonce tracker failed", err)
		}
		if used {
			return nil, x402.NewPaymentError(x402.ErrCodeReplayDetected, "authorization has already been used", x402.ErrReplayDetected).
				WithReason(x402.ReasonNonceUsed)
		}
	}

	if h.limiter != nil && identifier != "" {
		allowed, err := h.limiter.IsAllowed(ctx, identifier)
		if err != nil {
			return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "rate limiter failed", err)
		}
		if !allowed {
			return nil, x402.NewPaymentError(x402.ErrCodeRateLimited, "too many verification attempts", x402.ErrRateLimitExceeded).
				WithReason(x402.ReasonTooManyAttempts)
		}
		if _, err := h.limiter.RecordAttempt(ctx, identifier); err != nil {
			return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "rate limiter failed", err)
		}
	}

	resp, err := h.facilitatorVerify(ctx, payment, requirement)
	if err != nil {
		return nil, err
	}

	// Atomically claim the authorization. Losing the race means another
	// request spent it between our pre-check and here.
	if h.nonces != nil {
		fresh, err := h.nonces.MarkUsed(ctx, replayKey, h.replayTTL(payment, requirement))
		if err != nil {
			return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "nonce tracker failed", err)
		}
		if !fresh {
			return nil, x402.NewPaymentError(x402.ErrCodeReplayDetected, "authorization has already been used", x402.ErrReplayDetected).
				WithReason(x402.ReasonNonceUsed)
		}
	}

	if h.limiter != nil && identifier != "" {
		if err := h.limiter.RecordSuccess(ctx, identifier); err != nil {
			h.logger.Warn("failed to relieve rate limit attempt", "error", err)
		}
	}
	return resp, nil
}

// facilitatorVerify delegates to the facilitator, falling back to the
// secondary when the primary errors. Without a facilitator, account-based
// payments pass on local checks alone while transaction-based payments
// fail closed: their authorization cannot be inspected locally.
func (h *PaymentHandler) facilitatorVerify(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.VerifyResponse, error) {
	if h.facilitator == nil {
		if payment.Transaction != nil {
			return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "transaction-based payments require a facilitator", x402.ErrFacilitatorRequired).
				WithReason(x402.ReasonFacilitatorRequired).
				WithDetails("network", payment.Network)
		}
		return &x402.VerifyResponse{IsValid: true, Payer: payerOf(payment)}, nil
	}

	if h.onBeforeVerify != nil {
		h.onBeforeVerify(ctx, payment, requirement)
	}

	resp, err := h.facilitator.Verify(ctx, payment, requirement)
	if err != nil && h.fallback != nil {
		h.logger.Warn("primary facilitator failed, trying fallback", "error", err)
		resp, err = h.fallback.Verify(ctx, payment, requirement)
	}

	if h.onAfterVerify != nil {
		h.onAfterVerify(ctx, payment, resp, err)
	}
	if err != nil {
		return nil, err
	}

	if !resp.IsValid {
		reason := x402.Reason(resp.InvalidReason)
		if reason == "" {
			reason = x402.ReasonUnknown
		}
		return nil, x402.NewPaymentError(x402.ErrCodePaymentRejected, "facilitator rejected the payment", x402.ErrVerificationFailed).
			WithReason(reason)
	}

	if resp.Payer == "" {
		resp.Payer = payerOf(payment)
	}
	return resp, nil
}

// checkAuthorization applies the local "exact" scheme checks for
// account-based payments. Transaction-based payloads were structurally
// checked at decode time; their authorization lives inside the signed
// transaction and is the facilitator's to verify.
func (h *PaymentHandler) checkAuthorization(payment x402.PaymentPayload, requirement x402.PaymentRequirement) error {
	if payment.Account == nil {
		return nil
	}
	auth := payment.Account.Authorization

	if !strings.EqualFold(auth.To, requirement.PayTo) {
		return x402.NewPaymentError(x402.ErrCodePaymentRejected, "authorization recipient does not match", x402.ErrRecipientMismatch).
			WithReason(x402.ReasonRecipientMismatch).
			WithDetails("expected", requirement.PayTo).
			WithDetails("got", auth.To)
	}

	cmp, err := validation.CompareUintStrings(auth.Value, requirement.MaxAmountRequired)
	if err != nil {
		return err
	}
	if cmp != 0 {
		return x402.NewPaymentError(x402.ErrCodePaymentRejected, "authorization value does not match required amount", x402.ErrAmountMismatch).
			WithReason(x402.ReasonAmountMismatch).
			WithDetails("expected", requirement.MaxAmountRequired).
			WithDetails("got", auth.Value)
	}

	now := h.now()
	nowStr := strconv.FormatInt(now.Unix(), 10)
	if cmp, err := validation.CompareUintStrings(auth.ValidAfter, nowStr); err != nil {
		return err
	} else if cmp > 0 {
		return x402.NewPaymentError(x402.ErrCodePaymentRejected, "authorization is not yet valid", x402.ErrInvalidAuthorization).
			WithReason(x402.ReasonNotYetValid).
			WithDetails("validAfter", auth.ValidAfter)
	}

	// The authorization must outlive verification by the confirmation
	// buffer, or it could expire while settlement confirms on chain.
	deadline := strconv.FormatInt(now.Add(h.confirmationBuffer).Unix(), 10)
	if cmp, err := validation.CompareUintStrings(auth.ValidBefore, deadline); err != nil {
		return err
	} else if cmp < 0 {
		return x402.NewPaymentError(x402.ErrCodePaymentRejected, "authorization expires too soon to settle", x402.ErrExpiredAuthorization).
			WithReason(x402.ReasonExpired).
			WithDetails("validBefore", auth.ValidBefore)
	}

	if x402.NetworkTypeOf(requirement.Network) == x402.NetworkTypeAccount {
		name, _ := requirement.Extra["name"].(string)
		version, _ := requirement.Extra["version"].(string)
		if name == "" || version == "" {
			return x402.NewValidationError(x402.ReasonMissingDomainParams, "requirement is missing EIP-712 domain parameters", x402.ErrInvalidRequirements)
		}
	}
	return nil
}

// checkCompliance screens the payer address. A checker failure fails
// closed: accepting an unscreened payment is worse than rejecting a
// legitimate one.
func (h *PaymentHandler) checkCompliance(ctx context.Context, payment x402.PaymentPayload) error {
	payer := payerOf(payment)
	if payer == "" {
		return nil
	}

	blocked, policy, err := h.compliance.CheckAddress(ctx, payer, payment.Network)
	if err != nil {
		return x402.NewPaymentError(x402.ErrCodePaymentRejected, "compliance check failed", err).
			WithReason(x402.ReasonComplianceBlocked)
	}
	if blocked {
		return x402.NewPaymentError(x402.ErrCodePaymentRejected, "payer address is blocked", x402.ErrComplianceBlocked).
			WithReason(x402.ReasonComplianceBlocked).
			WithDetails("policy", policy)
	}
	return nil
}

// Settle executes a verified payment through the facilitator. A
// facilitator-reported failure is terminal: the response is returned
// alongside the error and the payment is never blindly resubmitted.
func (h *PaymentHandler) Settle(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error) {
	if h.facilitator == nil {
		return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "settlement requires a facilitator", x402.ErrFacilitatorRequired).
			WithReason(x402.ReasonFacilitatorRequired)
	}

	start := h.now()
	tags := map[string]string{"network": payment.Network, "scheme": payment.Scheme}
	h.metrics.Count("x402.settle.attempts", 1, tags)

	if h.onBeforeSettle != nil {
		h.onBeforeSettle(ctx, payment, requirement)
	}

	resp, err := h.facilitator.Settle(ctx, payment, requirement)
	if err != nil && h.fallback != nil {
		h.logger.Warn("primary facilitator settlement failed, trying fallback", "error", err)
		resp, err = h.fallback.Settle(ctx, payment, requirement)
	}

	if h.onAfterSettle != nil {
		h.onAfterSettle(ctx, payment, resp, err)
	}

	h.metrics.Timing("x402.settle.duration", h.now().Sub(start), tags)
	if err != nil {
		h.metrics.Count("x402.settle.failure", 1, tags)
		h.logger.Error("settlement failed", "network", payment.Network, "error", err)
		return nil, err
	}

	if !resp.Success {
		h.metrics.Count("x402.settle.failure", 1, tags)
		h.logger.Warn("settlement unsuccessful", "network", payment.Network, "reason", resp.ErrorReason)
		return resp, x402.NewPaymentError(x402.ErrCodePaymentRejected, "settlement failed", x402.ErrSettlementFailed).
			WithReason(x402.ReasonSettlementFailed).
			WithDetails("errorReason", resp.ErrorReason)
	}

	h.metrics.Count("x402.settle.success", 1, tags)
	h.logger.Info("payment settled", "network", payment.Network, "transaction", resp.Transaction)
	return resp, nil
}

// ProcessResult is the outcome of ProcessPayment. Failures are recorded
// in Err rather than returned, so callers branch on Verified and Err
// instead of unwinding.
type ProcessResult struct {
	Verified    bool
	Payload     *x402.PaymentPayload
	Requirement *x402.PaymentRequirement
	Response    *x402.VerifyResponse
	Settlement  *x402.SettlementResponse
	Record      *x402.PaymentRecord
	Err         error
}

// ProcessPayment runs the whole flow against request headers: extract the
// X-PAYMENT header, match a configured requirement, verify, and settle
// unless VerifyOnly is set. It never returns a Go error; failures come
// back as Verified=false with Err recorded. A PaymentRecord tracks the
// state walk for auditability once a requirement is matched.
func (h *PaymentHandler) ProcessPayment(ctx context.Context, headers http.Header, identifier string) ProcessResult {
	header := headers.Get(PaymentHeader)
	if header == "" {
		return ProcessResult{Err: x402.NewPaymentError(x402.ErrCodePaymentRejected, "payment required", x402.ErrPaymentRequired)}
	}

	payment, err := encoding.DecodePayment(header)
	if err != nil {
		return ProcessResult{Err: err}
	}

	matched, err := x402.FindMatchingRequirement(payment, h.requirements)
	if err != nil {
		return ProcessResult{Payload: &payment, Err: err}
	}

	record := x402.NewPaymentRecord(*matched)
	record.AttachPayload(&payment)

	result := ProcessResult{
		Payload:     &payment,
		Requirement: matched,
		Record:      record,
	}

	if err := record.Transition(x402.StateVerifying); err != nil {
		result.Err = err
		return result
	}

	resp, err := h.verifyPayment(ctx, payment, *matched, identifier)
	if err != nil {
		record.SetError(err.Error())
		_ = record.Transition(x402.StateFailed)
		result.Err = err
		return result
	}

	result.Verified = true
	result.Response = resp
	_ = record.Transition(x402.StateVerified)

	if h.verifyOnly || h.facilitator == nil {
		return result
	}

	_ = record.Transition(x402.StateSettling)
	settlement, err := h.Settle(ctx, payment, *matched)
	if err != nil {
		record.SetError(err.Error())
		_ = record.Transition(x402.StateFailed)
		result.Settlement = settlement
		result.Err = err
		return result
	}

	record.SetTransaction(settlement.Transaction)
	_ = record.Transition(x402.StateSettled)
	result.Settlement = settlement
	return result
}

// payerOf extracts the payer address: account payloads carry it in the
// authorization, transaction payloads require decoding the transaction.
func payerOf(payment x402.PaymentPayload) string {
	if payment.Account != nil {
		return payment.Account.Authorization.From
	}
	return helpers.GetPayer(payment)
}

// replayKeyOf derives the replay-protection key. Account payloads have an
// explicit nonce; transaction payloads are keyed by a digest of the
// signed transaction bytes.
func replayKeyOf(payment x402.PaymentPayload) string {
	if payment.Account != nil {
		return payment.Account.Authorization.Nonce
	}
	sum := sha256.Sum256([]byte(payment.Transaction.Transaction))
	return "tx:" + hex.EncodeToString(sum[:])
}

// replayTTL keeps the replay key for at least a minute, and as long as
// the authorization itself remains spendable.
func (h *PaymentHandler) replayTTL(payment x402.PaymentPayload, requirement x402.PaymentRequirement) time.Duration {
	ttl := time.Minute
	if payment.Account != nil {
		if vb, err := strconv.ParseInt(payment.Account.Authorization.ValidBefore, 10, 64); err == nil {
			if d := time.Unix(vb, 0).Sub(h.now()); d > ttl {
				ttl = d
			}
		}
		return ttl
	}
	if d := time.Duration(requirement.MaxTimeoutSeconds) * time.Second; d > ttl {
		ttl = d
	}
	return ttl
}
