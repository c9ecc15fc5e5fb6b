// Package webhook signs and verifies webhook payloads with a shared
// secret, so settlement notifications can be authenticated before they are
// acted on.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/payguard/x402-go"
)

// Verifier authenticates webhook payloads using HMAC-SHA256 over the raw
// body. It is safe for concurrent use.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier from the shared secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "webhook secret must not be empty", nil)
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Sign computes the hex-encoded HMAC-SHA256 signature of payload. Senders
// put this value in the X-Webhook-Signature header.
func (v *Verifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature authenticates payload. The comparison
// is constant-time.
func (v *Verifier) Verify(payload []byte, signature string) bool {
	if signature == "" {
		return false
	}
	expected := v.Sign(payload)
	return hmac.Equal([]byte(signature), []byte(expected))
}
