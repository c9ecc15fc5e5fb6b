// Package validation provides the pure input validation used by the payment
// pipeline: address and nonce format checks, unsigned 256-bit integer string
// arithmetic, input sanitization, and structural validation of payment
// requirements and payloads.
//
// Amounts are validated and compared as decimal strings. They are parsed
// with math/big only inside this package and never converted to native
// integers or floats elsewhere.
package validation

import (
	"encoding/base64"
	"html"
	"math/big"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/common"

	"github.com/payguard/x402-go"
)

// maxUint256 is 2^256-1, the largest value an authorization amount may take.
// 78 decimal digits.
const maxUint256 = "115792089237316195423570985008687907853269984665640564039457584007913129639935"

var (
	// solanaAddressRegex matches base58 addresses (32-44 chars, no 0OIl).
	solanaAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

	// nonceRegex matches a 32-byte hex nonce with 0x prefix.
	nonceRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)

	// uintStringRegex matches decimal digit strings.
	uintStringRegex = regexp.MustCompile(`^[0-9]+$`)
)

// IsValidAddress reports whether an address has the correct format for the
// network family. Account-based networks require a 0x-prefixed 20-byte hex
// address; transaction-based networks require a base58 string. Format only,
// existence is never checked locally.
func IsValidAddress(address string, networkType x402.NetworkType) bool {
	switch networkType {
	case x402.NetworkTypeAccount:
		return common.IsHexAddress(address)
	case x402.NetworkTypeTransaction:
		return solanaAddressRegex.MatchString(address)
	default:
		return false
	}
}

// ValidateAddress validates an address against the named network, resolving
// the network family first.
func ValidateAddress(address string, network string) error {
	if address == "" {
		return x402.NewValidationError(x402.ReasonMissingField, "address cannot be empty", x402.ErrInvalidAddress)
	}

	networkType, err := x402.ValidateNetwork(network)
	if err != nil {
		return err
	}

	if !IsValidAddress(address, networkType) {
		return x402.NewValidationError(x402.ReasonInvalidAddress, "address format invalid for network", x402.ErrInvalidAddress).
			WithDetails("address", address).
			WithDetails("network", network)
	}
	return nil
}

// IsValidUintString reports whether s is a canonical unsigned decimal
// integer in [0, 2^256-1]: digits only, no sign, no leading zeros except
// "0" itself.
func IsValidUintString(s string) bool {
	if s == "" {
		return false
	}
	if !uintStringRegex.MatchString(s) {
		return false
	}
	if len(s) > 1 && s[0] == '0' {
		return false
	}
	if len(s) > len(maxUint256) {
		return false
	}
	// Canonical strings of equal length compare lexicographically.
	if len(s) == len(maxUint256) && s > maxUint256 {
		return false
	}
	return true
}

// CompareUintStrings compares two canonical unsigned decimal strings,
// returning -1, 0, or 1. Both inputs must satisfy IsValidUintString;
// malformed input returns an error instead of a silent misordering.
func CompareUintStrings(a, b string) (int, error) {
	if !IsValidUintString(a) {
		return 0, x402.NewValidationError(x402.ReasonInvalidAmount, "not a canonical unsigned integer", x402.ErrInvalidAmount).
			WithDetails("value", a)
	}
	if !IsValidUintString(b) {
		return 0, x402.NewValidationError(x402.ReasonInvalidAmount, "not a canonical unsigned integer", x402.ErrInvalidAmount).
			WithDetails("value", b)
	}

	// Leading zeros are already excluded, so length decides first.
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1, nil
		}
		return 1, nil
	}
	return strings.Compare(a, b), nil
}

// SafeAddUint256 adds two unsigned 256-bit integer strings. A result above
// 2^256-1 is an overflow error, never a wrapped value.
func SafeAddUint256(a, b string) (string, error) {
	x, y, err := parseUintPair(a, b)
	if err != nil {
		return "", err
	}

	sum := new(big.Int).Add(x, y)
	if sum.Cmp(maxUint256Int) > 0 {
		return "", x402.NewValidationError(x402.ReasonOverflow, "addition exceeds uint256 range", x402.ErrOverflow).
			WithDetails("a", a).
			WithDetails("b", b)
	}
	return sum.String(), nil
}

// SafeMulUint256 multiplies two unsigned 256-bit integer strings. A result
// above 2^256-1 is an overflow error, never a wrapped value.
func SafeMulUint256(a, b string) (string, error) {
	x, y, err := parseUintPair(a, b)
	if err != nil {
		return "", err
	}

	product := new(big.Int).Mul(x, y)
	if product.Cmp(maxUint256Int) > 0 {
		return "", x402.NewValidationError(x402.ReasonOverflow, "multiplication exceeds uint256 range", x402.ErrOverflow).
			WithDetails("a", a).
			WithDetails("b", b)
	}
	return product.String(), nil
}

var maxUint256Int, _ = new(big.Int).SetString(maxUint256, 10)

func parseUintPair(a, b string) (*big.Int, *big.Int, error) {
	if !IsValidUintString(a) {
		return nil, nil, x402.NewValidationError(x402.ReasonInvalidAmount, "not a canonical unsigned integer", x402.ErrInvalidAmount).
			WithDetails("value", a)
	}
	if !IsValidUintString(b) {
		return nil, nil, x402.NewValidationError(x402.ReasonInvalidAmount, "not a canonical unsigned integer", x402.ErrInvalidAmount).
			WithDetails("value", b)
	}

	x, _ := new(big.Int).SetString(a, 10)
	y, _ := new(big.Int).SetString(b, 10)
	return x, y, nil
}

// IsValidNonce reports whether n is a 32-byte hex nonce with 0x prefix, the
// format required by transfer authorizations.
func IsValidNonce(n string) bool {
	return nonceRegex.MatchString(n)
}

// SanitizeString strips control characters, truncates to maxLen runes, and
// HTML-escapes the result. Used on every string that may be echoed back in
// a response (descriptions, resource labels).
func SanitizeString(s string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}

	return html.EscapeString(cleaned)
}

// SanitizeURL validates that u is an absolute http or https URL with a host
// and returns it in normalized form.
func SanitizeURL(u string) (string, error) {
	if u == "" {
		return "", x402.NewValidationError(x402.ReasonMissingField, "url cannot be empty", x402.ErrInvalidRequirements)
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return "", x402.NewValidationError(x402.ReasonInvalidURL, "url is not parseable", err).
			WithDetails("url", u)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", x402.NewValidationError(x402.ReasonInvalidURL, "url scheme must be http or https", x402.ErrInvalidRequirements).
			WithDetails("url", u)
	}
	if parsed.Host == "" {
		return "", x402.NewValidationError(x402.ReasonInvalidURL, "url host cannot be empty", x402.ErrInvalidRequirements).
			WithDetails("url", u)
	}

	return parsed.String(), nil
}

// ValidateAmount validates that an amount string is a canonical unsigned
// integer within the uint256 range. Zero is allowed; requirements that want
// to exclude free access enforce that at construction.
func ValidateAmount(amount string) error {
	if amount == "" {
		return x402.NewValidationError(x402.ReasonMissingField, "amount cannot be empty", x402.ErrInvalidAmount)
	}
	if !IsValidUintString(amount) {
		return x402.NewValidationError(x402.ReasonInvalidAmount, "amount must be a canonical unsigned integer within uint256", x402.ErrInvalidAmount).
			WithDetails("amount", amount)
	}
	return nil
}

// ValidatePaymentRequirement performs structural validation of a payment
// requirement: amount, network, addresses, scheme, timeout, resource URL,
// and the EIP-712 domain parameters account-based networks must carry.
func ValidatePaymentRequirement(req x402.PaymentRequirement) error {
	if err := ValidateAmount(req.MaxAmountRequired); err != nil {
		return err
	}

	networkType, err := x402.ValidateNetwork(req.Network)
	if err != nil {
		return err
	}

	if req.PayTo == "" {
		return x402.NewValidationError(x402.ReasonMissingField, "payTo cannot be empty", x402.ErrInvalidRequirements)
	}
	if err := ValidateAddress(req.PayTo, req.Network); err != nil {
		return err
	}

	if req.Asset == "" {
		return x402.NewValidationError(x402.ReasonMissingField, "asset cannot be empty", x402.ErrInvalidRequirements)
	}
	if err := ValidateAddress(req.Asset, req.Network); err != nil {
		return err
	}

	switch req.Scheme {
	case "exact":
	case "":
		return x402.NewValidationError(x402.ReasonMissingField, "scheme cannot be empty", x402.ErrInvalidRequirements)
	default:
		return x402.NewValidationError(x402.ReasonUnsupportedScheme, "unsupported scheme", x402.ErrUnsupportedScheme).
			WithDetails("scheme", req.Scheme)
	}

	if req.MaxTimeoutSeconds < 0 {
		return x402.NewValidationError(x402.ReasonInvalidTimestamp, "timeout cannot be negative", x402.ErrInvalidRequirements).
			WithDetails("maxTimeoutSeconds", req.MaxTimeoutSeconds)
	}

	if req.Resource != "" {
		if _, err := SanitizeURL(req.Resource); err != nil {
			return err
		}
	}

	// Account-based networks sign EIP-712 typed data; verification is
	// impossible without the domain name and version.
	if networkType == x402.NetworkTypeAccount {
		name, _ := req.Extra["name"].(string)
		version, _ := req.Extra["version"].(string)
		if name == "" || version == "" {
			return x402.NewValidationError(x402.ReasonMissingDomainParams, "account-based requirements must carry extra.name and extra.version", x402.ErrInvalidRequirements).
				WithDetails("network", req.Network)
		}
	}

	return nil
}

// ValidatePaymentPayload performs structural validation of a decoded payment
// payload: protocol version, scheme and network presence, and consistency
// between the payload variant and the network family, plus per-variant field
// checks. Cryptographic validity is the facilitator's job.
func ValidatePaymentPayload(payment x402.PaymentPayload) error {
	if payment.X402Version != x402.SupportedVersion {
		return x402.NewValidationError(x402.ReasonUnsupportedVersion, "unsupported protocol version", x402.ErrUnsupportedVersion).
			WithDetails("version", payment.X402Version)
	}

	if payment.Scheme == "" {
		return x402.NewValidationError(x402.ReasonMissingField, "scheme cannot be empty", x402.ErrInvalidPayment)
	}
	if payment.Network == "" {
		return x402.NewValidationError(x402.ReasonMissingField, "network cannot be empty", x402.ErrInvalidPayment)
	}

	networkType, err := x402.ValidateNetwork(payment.Network)
	if err != nil {
		return err
	}

	switch networkType {
	case x402.NetworkTypeAccount:
		if payment.Account == nil {
			return x402.NewValidationError(x402.ReasonVariantMismatch, "account-based network requires an authorization payload", x402.ErrInvalidPayment).
				WithDetails("network", payment.Network)
		}
		if payment.Transaction != nil {
			return x402.NewValidationError(x402.ReasonVariantMismatch, "payload carries both variants", x402.ErrInvalidPayment)
		}
		return validateAccountPayload(payment.Account)

	case x402.NetworkTypeTransaction:
		if payment.Transaction == nil {
			return x402.NewValidationError(x402.ReasonVariantMismatch, "transaction-based network requires a transaction payload", x402.ErrInvalidPayment).
				WithDetails("network", payment.Network)
		}
		if payment.Account != nil {
			return x402.NewValidationError(x402.ReasonVariantMismatch, "payload carries both variants", x402.ErrInvalidPayment)
		}
		return validateTransactionPayload(payment.Transaction)
	}

	return x402.NewValidationError(x402.ReasonUnsupportedNetwork, "unsupported network family", x402.ErrInvalidNetwork).
		WithDetails("network", payment.Network)
}

func validateAccountPayload(p *x402.AccountPayload) error {
	if p.Signature == "" {
		return x402.NewValidationError(x402.ReasonInvalidSignature, "signature cannot be empty", x402.ErrInvalidSignature)
	}
	if !strings.HasPrefix(p.Signature, "0x") || len(p.Signature) < 4 {
		return x402.NewValidationError(x402.ReasonInvalidSignature, "signature must be 0x-prefixed hex", x402.ErrInvalidSignature)
	}
	for _, c := range p.Signature[2:] {
		if !isHexDigit(byte(c)) {
			return x402.NewValidationError(x402.ReasonInvalidSignature, "signature must be 0x-prefixed hex", x402.ErrInvalidSignature)
		}
	}

	auth := p.Authorization
	if !common.IsHexAddress(auth.From) {
		return x402.NewValidationError(x402.ReasonInvalidAddress, "authorization from address invalid", x402.ErrInvalidAuthorization).
			WithDetails("field", "from")
	}
	if !common.IsHexAddress(auth.To) {
		return x402.NewValidationError(x402.ReasonInvalidAddress, "authorization to address invalid", x402.ErrInvalidAuthorization).
			WithDetails("field", "to")
	}
	if !IsValidUintString(auth.Value) {
		return x402.NewValidationError(x402.ReasonInvalidAmount, "authorization value must be a canonical unsigned integer", x402.ErrInvalidAuthorization).
			WithDetails("value", auth.Value)
	}
	if !IsValidUintString(auth.ValidAfter) {
		return x402.NewValidationError(x402.ReasonInvalidTimestamp, "validAfter must be a canonical unsigned integer", x402.ErrInvalidAuthorization).
			WithDetails("validAfter", auth.ValidAfter)
	}
	if !IsValidUintString(auth.ValidBefore) {
		return x402.NewValidationError(x402.ReasonInvalidTimestamp, "validBefore must be a canonical unsigned integer", x402.ErrInvalidAuthorization).
			WithDetails("validBefore", auth.ValidBefore)
	}

	cmp, err := CompareUintStrings(auth.ValidAfter, auth.ValidBefore)
	if err != nil {
		return err
	}
	if cmp >= 0 {
		return x402.NewValidationError(x402.ReasonInvalidTimestamp, "validAfter must precede validBefore", x402.ErrInvalidAuthorization).
			WithDetails("validAfter", auth.ValidAfter).
			WithDetails("validBefore", auth.ValidBefore)
	}

	if !IsValidNonce(auth.Nonce) {
		return x402.NewValidationError(x402.ReasonInvalidNonce, "nonce must be 0x-prefixed 32-byte hex", x402.ErrInvalidNonce).
			WithDetails("nonce", auth.Nonce)
	}

	return nil
}

func validateTransactionPayload(p *x402.TransactionPayload) error {
	if p.Transaction == "" {
		return x402.NewValidationError(x402.ReasonInvalidTransaction, "transaction cannot be empty", x402.ErrInvalidPayment)
	}
	if _, err := base64.StdEncoding.DecodeString(p.Transaction); err != nil {
		return x402.NewValidationError(x402.ReasonInvalidTransaction, "transaction must be valid base64", x402.ErrInvalidPayment)
	}
	return nil
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
