package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/payguard/x402-go/webhook"
)

// WebhookSignatureHeader carries the hex-encoded HMAC-SHA256 signature of
// the raw request body.
const WebhookSignatureHeader = "X-Webhook-Signature"

// Webhook event types delivered by facilitators.
const (
	WebhookEventSettlementConfirmed = "settlement.confirmed"
	WebhookEventSettlementFailed    = "settlement.failed"
)

// maxWebhookBody bounds webhook payload reads.
const maxWebhookBody = 1 << 20

// WebhookEvent is an asynchronous settlement notification. Settlement
// responses report what the facilitator accepted; webhook events report
// what the chain later confirmed.
type WebhookEvent struct {
	// ID uniquely identifies the delivery, for idempotent handling.
	ID string `json:"id"`

	// Type is one of the WebhookEvent* constants.
	Type string `json:"type"`

	// Network is the blockchain network the settlement ran on.
	Network string `json:"network"`

	// Transaction is the on-chain transaction hash or signature.
	Transaction string `json:"transaction"`

	// Payer is the address that funded the payment.
	Payer string `json:"payer"`

	// Timestamp is when the facilitator emitted the event.
	Timestamp time.Time `json:"timestamp"`

	// Data carries event-specific detail, such as a failure reason.
	Data json.RawMessage `json:"data,omitempty"`
}

// WebhookEventFunc handles an authenticated webhook event. Returning an
// error makes the handler respond 500 so the sender retries the delivery.
type WebhookEventFunc func(ctx context.Context, event WebhookEvent) error

// NewWebhookHandler returns a handler for facilitator settlement webhooks.
// Each delivery is authenticated with an HMAC-SHA256 signature over the
// raw body before the event reaches onEvent; unauthenticated deliveries
// are rejected without parsing.
func NewWebhookHandler(secret string, onEvent WebhookEventFunc) (http.Handler, error) {
	verifier, err := webhook.NewVerifier(secret)
	if err != nil {
		return nil, err
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			http.Error(w, "Failed to read body", http.StatusBadRequest)
			return
		}

		if !verifier.Verify(body, r.Header.Get(WebhookSignatureHeader)) {
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}

		var event WebhookEvent
		if err := json.Unmarshal(body, &event); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		if err := onEvent(r.Context(), event); err != nil {
			http.Error(w, "Event handling failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), nil
}
