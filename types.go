package x402

import (
	"encoding/json"
	"math/big"
	"strings"
)

// SupportedVersion is the x402 protocol version this implementation speaks.
const SupportedVersion = 1

// InputSchemaType is the transport of a described request.
type InputSchemaType string

const (
	InputSchemaTypeHTTP InputSchemaType = "http"
)

// InputSchemaMethod is the HTTP method of a described request.
type InputSchemaMethod string

const (
	InputSchemaMethodGET  InputSchemaMethod = "GET"
	InputSchemaMethodPOST InputSchemaMethod = "POST"
)

// InputSchemaBodyType is the encoding of a described request body.
type InputSchemaBodyType string

const (
	InputSchemaBodyTypeJSON              InputSchemaBodyType = "json"
	InputSchemaBodyTypeFormData          InputSchemaBodyType = "form-data"
	InputSchemaBodyTypeMultipartFormData InputSchemaBodyType = "multipart-form-data"
	InputSchemaBodyTypeText              InputSchemaBodyType = "text"
	InputSchemaBodyTypeBinary            InputSchemaBodyType = "binary"
)

// FieldDef describes one field of a request or response schema
// (https://www.x402scan.com).
type FieldDef struct {
	Type        string              `json:"type,omitempty"`
	Required    bool                `json:"required,omitempty"`
	Description string              `json:"description,omitempty"`
	Enum        []string            `json:"enum,omitempty"`
	Properties  map[string]FieldDef `json:"properties,omitempty"`
}

// InputSchema describes the request a client is expected to send
// (https://www.x402scan.com).
type InputSchema struct {
	Type         InputSchemaType     `json:"type"`
	Method       InputSchemaMethod   `json:"method"`
	BodyType     InputSchemaBodyType `json:"bodyType,omitempty"`
	QueryParams  map[string]FieldDef `json:"queryParams,omitempty"`
	BodyFields   map[string]FieldDef `json:"bodyFields,omitempty"`
	HeaderFields map[string]FieldDef `json:"headerFields,omitempty"`
}

// OutputSchema pairs the request schema with the shape of the response
// (https://www.x402scan.com).
type OutputSchema struct {
	Input  InputSchema         `json:"input,omitempty"`
	Output map[string]FieldDef `json:"output,omitempty"`
}

// PaymentRequirement describes a single payment option a resource server
// accepts. Requirements are built once per protected resource and never
// mutated afterwards.
type PaymentRequirement struct {
	// Scheme is the payment scheme name, "exact" for fixed-amount payments.
	Scheme string `json:"scheme"`

	// Network is the network identifier, e.g. "base" or "solana".
	Network string `json:"network"`

	// MaxAmountRequired is the price in atomic token units (wei, lamports).
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Asset is the token contract (EVM) or mint (Solana) address.
	Asset string `json:"asset"`

	// PayTo is the address payments must be made out to.
	PayTo string `json:"payTo"`

	// Resource is the URL of the resource this requirement protects.
	Resource string `json:"resource"`

	// Description is free-form text shown to the payer.
	Description string `json:"description"`

	// MimeType is the content type the resource returns.
	MimeType string `json:"mimeType"`

	// MaxTimeoutSeconds bounds how long a payment authorization stays valid.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Extra contains scheme-specific additional data. Account-based networks
	// carry the EIP-712 domain parameters here as "name" and "version".
	Extra map[string]interface{} `json:"extra"`

	// OutputSchema advertises the request/response shape to clients
	// (https://www.x402scan.com).
	OutputSchema *OutputSchema `json:"outputSchema,omitempty"`
}

// PaymentRequirementsResponse is the JSON body of a 402 response.
type PaymentRequirementsResponse struct {
	// X402Version is the protocol version in use (currently 1).
	X402Version int `json:"x402Version"`

	// Error explains why payment is required or why it was refused.
	Error string `json:"error"`

	// Accepts lists the payment options the server accepts.
	Accepts []PaymentRequirement `json:"accepts"`
}

// AccountAuthorization holds the transfer-with-authorization parameters for
// account-based networks (EIP-3009 on EVM chains). All fields are decimal or
// hex strings exactly as signed; they are never parsed into native integers.
type AccountAuthorization struct {
	// From is the payer address.
	From string `json:"from"`

	// To is the recipient address.
	To string `json:"to"`

	// Value is the transfer amount in atomic units.
	Value string `json:"value"`

	// ValidAfter is the unix time the authorization becomes valid.
	ValidAfter string `json:"validAfter"`

	// ValidBefore is the unix time the authorization expires.
	ValidBefore string `json:"validBefore"`

	// Nonce is a unique 32-byte hex value; reuse is rejected as replay.
	Nonce string `json:"nonce"`
}

// AccountPayload is the payment payload variant for account-based networks:
// a signature over an authorization that has not yet been broadcast.
type AccountPayload struct {
	// Signature is the hex-encoded ECDSA signature.
	Signature string `json:"signature"`

	// Authorization contains the transfer authorization parameters.
	Authorization AccountAuthorization `json:"authorization"`
}

// TransactionPayload is the payment payload variant for transaction-based
// networks: an opaque, partially signed transaction the facilitator
// completes and broadcasts. Its contents cannot be validated locally.
type TransactionPayload struct {
	// Transaction is the base64-encoded partially signed transaction.
	Transaction string `json:"transaction"`
}

// PaymentPayload represents a client-submitted payment authorization.
// Exactly one of Account or Transaction is set, matching the network family.
// The wire form is the JSON envelope {x402Version, scheme, network, payload}.
type PaymentPayload struct {
	// X402Version is the protocol version (currently 1).
	X402Version int

	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string

	// Network is the blockchain network identifier.
	Network string

	// Account is the authorization for account-based networks.
	Account *AccountPayload

	// Transaction is the authorization for transaction-based networks.
	Transaction *TransactionPayload
}

// paymentEnvelope is the wire form of PaymentPayload.
type paymentEnvelope struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// MarshalJSON emits the wire envelope with the payload variant under the
// single "payload" key. Round-trips losslessly with UnmarshalJSON.
func (p PaymentPayload) MarshalJSON() ([]byte, error) {
	env := paymentEnvelope{
		X402Version: p.X402Version,
		Scheme:      p.Scheme,
		Network:     p.Network,
	}

	var inner interface{}
	switch {
	case p.Account != nil:
		inner = p.Account
	case p.Transaction != nil:
		inner = p.Transaction
	}
	if inner != nil {
		raw, err := json.Marshal(inner)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}

	return json.Marshal(env)
}

// UnmarshalJSON parses the wire envelope and selects the payload variant by
// shape: a "transaction" key yields a TransactionPayload, an "authorization"
// key yields an AccountPayload. Consistency between the variant and the
// network family is enforced by the codec, not here.
func (p *PaymentPayload) UnmarshalJSON(data []byte) error {
	var env paymentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	p.X402Version = env.X402Version
	p.Scheme = env.Scheme
	p.Network = env.Network
	p.Account = nil
	p.Transaction = nil

	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil
	}

	var probe struct {
		Authorization json.RawMessage `json:"authorization"`
		Transaction   json.RawMessage `json:"transaction"`
	}
	if err := json.Unmarshal(env.Payload, &probe); err != nil {
		return err
	}

	switch {
	case len(probe.Transaction) > 0 && string(probe.Transaction) != "null":
		var tx TransactionPayload
		if err := json.Unmarshal(env.Payload, &tx); err != nil {
			return err
		}
		p.Transaction = &tx
	case len(probe.Authorization) > 0 && string(probe.Authorization) != "null":
		var acct AccountPayload
		if err := json.Unmarshal(env.Payload, &acct); err != nil {
			return err
		}
		p.Account = &acct
	}

	return nil
}

// Payer returns the payer address declared in the payload, when it is
// determinable locally. Transaction-based payloads return the empty string;
// their payer is extracted by transport helpers or reported by the
// facilitator.
func (p PaymentPayload) Payer() string {
	if p.Account != nil {
		return p.Account.Authorization.From
	}
	return ""
}

// VerifyResponse represents the facilitator's response to a verify call.
type VerifyResponse struct {
	// IsValid indicates whether the payment authorization is valid.
	IsValid bool `json:"isValid"`

	// InvalidReason is the facilitator's stable reason code when invalid.
	InvalidReason string `json:"invalidReason,omitempty"`

	// Payer is the payer address recovered by the facilitator.
	Payer string `json:"payer,omitempty"`
}

// SettlementResponse represents the facilitator's response after settlement.
type SettlementResponse struct {
	// Success indicates whether the payment was successfully settled.
	Success bool `json:"success"`

	// ErrorReason provides a stable reason code if settlement failed.
	ErrorReason string `json:"errorReason,omitempty"`

	// Transaction is the blockchain transaction hash.
	Transaction string `json:"transaction,omitempty"`

	// Network is the blockchain network where the payment was settled.
	Network string `json:"network,omitempty"`

	// Payer is the address that made the payment.
	Payer string `json:"payer,omitempty"`

	// Status is an optional settlement status string (e.g., "confirmed").
	Status string `json:"status,omitempty"`
}

// SupportedResponse describes the facilitator's supported configuration.
type SupportedResponse struct {
	// Version is the x402 protocol version the facilitator speaks.
	Version int `json:"version"`

	// Networks lists the supported network identifiers.
	Networks []string `json:"networks"`

	// Schemes lists the supported payment schemes.
	Schemes []string `json:"schemes"`

	// Features carries facilitator-specific extras (e.g., feePayer addresses
	// keyed by network).
	Features map[string]interface{} `json:"features,omitempty"`
}

// TokenConfig describes a token a server is willing to be paid in.
type TokenConfig struct {
	// Address is the token contract (EVM) or mint (Solana) address.
	Address string

	// Symbol is the ticker symbol, e.g. "USDC".
	Symbol string

	// Decimals is the token's decimal precision.
	Decimals int

	// Name is an optional human-readable token name.
	Name string
}

// AmountToBigInt converts a decimal amount string to *big.Int in atomic units.
// For example, "1.5" with 6 decimals becomes 1500000.
func AmountToBigInt(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, ErrInvalidAmount
	}

	s := amount
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return nil, ErrInvalidAmount
	}
	if whole == "" {
		whole = "0"
	}
	for _, r := range whole {
		if r < '0' || r > '9' {
			return nil, ErrInvalidAmount
		}
	}
	if hasFrac {
		for _, r := range frac {
			if r < '0' || r > '9' {
				return nil, ErrInvalidAmount
			}
		}
	}

	// Fractional digits beyond the token's precision are rejected unless
	// they are zero. Money is never silently rounded.
	if len(frac) > decimals {
		if strings.Trim(frac[decimals:], "0") != "" {
			return nil, ErrInvalidAmount
		}
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", decimals-len(frac))

	result, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, ErrInvalidAmount
	}
	if neg {
		result.Neg(result)
	}
	return result, nil
}

// BigIntToAmount converts a *big.Int in atomic units to a decimal string.
// For example, 1500000 with 6 decimals becomes "1.500000".
func BigIntToAmount(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	if decimals <= 0 {
		return value.String()
	}

	sign := ""
	if value.Sign() < 0 {
		sign = "-"
	}
	digits := new(big.Int).Abs(value).String()
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	cut := len(digits) - decimals
	return sign + digits[:cut] + "." + digits[cut:]
}
