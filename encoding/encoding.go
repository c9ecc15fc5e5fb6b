// Package encoding is the wire codec for x402 payment data: base64-wrapped
// JSON for the X-PAYMENT and X-PAYMENT-RESPONSE headers and the requirements
// list. DecodePayment structurally validates before returning, so a payload
// obtained from it is always internally consistent.
package encoding

import (
	"encoding/base64"
	"encoding/json"

	"github.com/payguard/x402-go"
	"github.com/payguard/x402-go/validation"
)

// maxHeaderBytes caps the size of an X-PAYMENT header this codec will decode.
// Payment payloads are small; anything larger is garbage or abuse.
const maxHeaderBytes = 16 * 1024

// EncodePayment converts a PaymentPayload to a base64-encoded JSON string,
// the X-PAYMENT header wire form. Round-trips losslessly with DecodePayment.
func EncodePayment(payment x402.PaymentPayload) (string, error) {
	paymentJSON, err := json.Marshal(payment)
	if err != nil {
		return "", x402.NewValidationError(x402.ReasonMalformedHeader, "failed to marshal payment", err)
	}
	return base64.StdEncoding.EncodeToString(paymentJSON), nil
}

// DecodePayment converts a base64-encoded JSON string to a PaymentPayload
// and structurally validates it: protocol version, scheme and network
// presence, variant/network-family consistency, and per-variant field
// formats. Every failure is a validation_error carrying a stable reason.
func DecodePayment(encoded string) (x402.PaymentPayload, error) {
	var payment x402.PaymentPayload

	if encoded == "" {
		return payment, x402.NewValidationError(x402.ReasonMalformedHeader, "payment header is empty", x402.ErrMalformedHeader)
	}
	if len(encoded) > maxHeaderBytes {
		return payment, x402.NewValidationError(x402.ReasonMalformedHeader, "payment header exceeds size limit", x402.ErrMalformedHeader).
			WithDetails("size", len(encoded))
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return payment, x402.NewValidationError(x402.ReasonMalformedHeader, "payment header is not valid base64", x402.ErrMalformedHeader)
	}

	if err := json.Unmarshal(decoded, &payment); err != nil {
		return payment, x402.NewValidationError(x402.ReasonMalformedHeader, "payment header is not valid JSON", x402.ErrMalformedHeader)
	}

	if err := validation.ValidatePaymentPayload(payment); err != nil {
		return x402.PaymentPayload{}, err
	}

	return payment, nil
}

// EncodeSettlement converts a SettlementResponse to a base64-encoded JSON
// string, the X-PAYMENT-RESPONSE header wire form.
func EncodeSettlement(settlement x402.SettlementResponse) (string, error) {
	settlementJSON, err := json.Marshal(settlement)
	if err != nil {
		return "", x402.NewValidationError(x402.ReasonMalformedHeader, "failed to marshal settlement", err)
	}
	return base64.StdEncoding.EncodeToString(settlementJSON), nil
}

// DecodeSettlement converts a base64-encoded JSON string to a
// SettlementResponse.
func DecodeSettlement(encoded string) (x402.SettlementResponse, error) {
	var settlement x402.SettlementResponse

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return settlement, x402.NewValidationError(x402.ReasonMalformedHeader, "settlement header is not valid base64", x402.ErrMalformedHeader)
	}

	if err := json.Unmarshal(decoded, &settlement); err != nil {
		return settlement, x402.NewValidationError(x402.ReasonMalformedHeader, "settlement header is not valid JSON", x402.ErrMalformedHeader)
	}

	return settlement, nil
}

// EncodeRequirements converts a PaymentRequirementsResponse to base64-encoded
// JSON. Kept for clients and tests that carry the 402 body out of band.
func EncodeRequirements(requirements x402.PaymentRequirementsResponse) (string, error) {
	reqJSON, err := json.Marshal(requirements)
	if err != nil {
		return "", x402.NewValidationError(x402.ReasonMalformedHeader, "failed to marshal requirements", err)
	}
	return base64.StdEncoding.EncodeToString(reqJSON), nil
}

// DecodeRequirements converts base64-encoded JSON to a
// PaymentRequirementsResponse.
func DecodeRequirements(encoded string) (x402.PaymentRequirementsResponse, error) {
	var requirements x402.PaymentRequirementsResponse

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return requirements, x402.NewValidationError(x402.ReasonMalformedHeader, "requirements are not valid base64", x402.ErrMalformedHeader)
	}

	if err := json.Unmarshal(decoded, &requirements); err != nil {
		return requirements, x402.NewValidationError(x402.ReasonMalformedHeader, "requirements are not valid JSON", x402.ErrMalformedHeader)
	}

	return requirements, nil
}
