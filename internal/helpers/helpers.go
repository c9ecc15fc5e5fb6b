// Package helpers provides shared behavior for the x402 transport
// integrations (stdlib, Chi, Gin, Echo, PocketBase, MCP), so every
// entry point emits identical protocol responses.
package helpers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/payguard/x402-go"
	"github.com/payguard/x402-go/encoding"
)

// ParsePaymentHeaderFromRequest extracts and decodes the X-PAYMENT header.
// A missing header is reported as payment required, distinct from a header
// that is present but malformed.
func ParsePaymentHeaderFromRequest(r *http.Request) (x402.PaymentPayload, error) {
	headerValue := r.Header.Get("X-PAYMENT")
	if headerValue == "" {
		return x402.PaymentPayload{}, x402.NewPaymentError(x402.ErrCodePaymentRejected, "payment required", x402.ErrPaymentRequired)
	}
	return encoding.DecodePayment(headerValue)
}

// SendPaymentRequired writes a 402 Payment Required response. All protocol
// headers are set before the status line is finalized; some HTTP stacks
// drop headers added after WriteHeader.
func SendPaymentRequired(w http.ResponseWriter, requirements []x402.PaymentRequirement, message string) {
	if message == "" {
		message = "Payment required for this resource"
	}

	w.Header().Set("WWW-Authenticate", "X-Payment")
	w.Header().Set("Content-Type", "application/json")
	if accept := acceptedSchemes(requirements); accept != "" {
		w.Header().Set("X-Payment-Accept", accept)
	}
	w.WriteHeader(http.StatusPaymentRequired)

	response := x402.PaymentRequirementsResponse{
		X402Version: x402.SupportedVersion,
		Error:       message,
		Accepts:     requirements,
	}
	// The 402 status is already committed; a failed body write leaves the
	// client with the status and headers, which is enough to retry.
	_ = json.NewEncoder(w).Encode(response)
}

// AddPaymentResponseHeader attaches the base64-encoded settlement result
// as the X-PAYMENT-RESPONSE header.
func AddPaymentResponseHeader(w http.ResponseWriter, settlement *x402.SettlementResponse) error {
	encoded, err := encoding.EncodeSettlement(*settlement)
	if err != nil {
		return err
	}
	w.Header().Set("X-PAYMENT-RESPONSE", encoded)
	return nil
}

// RequirementsForRequest clones the configured requirements with the
// resource field pointed at the absolute URL of this request, and a
// default description derived from the path.
func RequirementsForRequest(r *http.Request, requirements []x402.PaymentRequirement) []x402.PaymentRequirement {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	resourceURL := scheme + "://" + r.Host + r.RequestURI

	out := make([]x402.PaymentRequirement, len(requirements))
	copy(out, requirements)
	for i := range out {
		out[i].Resource = resourceURL
		if out[i].Description == "" {
			out[i].Description = "Payment required for " + r.URL.Path
		}
	}
	return out
}

// ClientIdentifier keys the rate limiter: the first X-Forwarded-For hop
// when present, otherwise the connection's remote host.
func ClientIdentifier(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// PaymentErrorMessage extracts the operator-written message for a 402
// body, leaving wrapped internal detail out of the response.
func PaymentErrorMessage(err error) string {
	var pe *x402.PaymentError
	if errors.As(err, &pe) {
		return pe.Message
	}
	return ""
}

// acceptedSchemes renders the unique schemes of requirements in order of
// first appearance, comma-separated.
func acceptedSchemes(requirements []x402.PaymentRequirement) string {
	seen := make(map[string]bool, len(requirements))
	schemes := make([]string, 0, len(requirements))
	for _, req := range requirements {
		if req.Scheme == "" || seen[req.Scheme] {
			continue
		}
		seen[req.Scheme] = true
		schemes = append(schemes, req.Scheme)
	}
	return strings.Join(schemes, ", ")
}
