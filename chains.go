// Package x402 implements the resource-server side of the x402 payment
// protocol: typed payment requirements and payloads, the payment state
// machine, chain configuration for USDC across supported networks, and the
// collaborator interfaces consumed by the verification pipeline.
package x402

import "strings"

// NetworkType represents the authorization family of a blockchain network.
type NetworkType int

const (
	// NetworkTypeUnknown represents an unrecognized network.
	NetworkTypeUnknown NetworkType = iota
	// NetworkTypeAccount represents account-based networks (EVM chains),
	// whose payments carry a signed transfer authorization.
	NetworkTypeAccount
	// NetworkTypeTransaction represents transaction-based networks (Solana),
	// whose payments carry an opaque partially signed transaction.
	NetworkTypeTransaction
)

// String returns the family name for logging and error details.
func (t NetworkType) String() string {
	switch t {
	case NetworkTypeAccount:
		return "account"
	case NetworkTypeTransaction:
		return "transaction"
	default:
		return "unknown"
	}
}

// ChainConfig contains chain-specific configuration for USDC tokens and
// payment requirements. All USDC addresses and domain parameters were
// verified on 2025-10-28.
type ChainConfig struct {
	// NetworkID is the x402 protocol network identifier (e.g., "base", "solana").
	NetworkID string

	// Type is the authorization family of the network.
	Type NetworkType

	// USDCAddress is the official Circle USDC contract address or mint address.
	USDCAddress string

	// Decimals is the number of decimal places for USDC (always 6).
	Decimals uint8

	// DomainName is the EIP-712 domain parameter "name" (empty for
	// transaction-based chains).
	DomainName string

	// DomainVersion is the EIP-712 domain parameter "version" (empty for
	// transaction-based chains).
	DomainVersion string
}

// Mainnet chain configurations
var (
	// SolanaMainnet is the configuration for Solana mainnet.
	// USDC address verified 2025-10-28.
	SolanaMainnet = ChainConfig{
		NetworkID:   "solana",
		Type:        NetworkTypeTransaction,
		USDCAddress: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Decimals:    6,
	}

	// BaseMainnet is the configuration for Base mainnet.
	// USDC address and domain parameters verified 2025-10-28.
	BaseMainnet = ChainConfig{
		NetworkID:     "base",
		Type:          NetworkTypeAccount,
		USDCAddress:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals:      6,
		DomainName:    "USD Coin",
		DomainVersion: "2",
	}

	// PolygonMainnet is the configuration for Polygon PoS mainnet.
	// USDC address and domain parameters verified 2025-10-28.
	PolygonMainnet = ChainConfig{
		NetworkID:     "polygon",
		Type:          NetworkTypeAccount,
		USDCAddress:   "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		Decimals:      6,
		DomainName:    "USD Coin",
		DomainVersion: "2",
	}

	// AvalancheMainnet is the configuration for Avalanche C-Chain mainnet.
	// USDC address and domain parameters verified 2025-10-28.
	AvalancheMainnet = ChainConfig{
		NetworkID:     "avalanche",
		Type:          NetworkTypeAccount,
		USDCAddress:   "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		Decimals:      6,
		DomainName:    "USD Coin",
		DomainVersion: "2",
	}
)

// Testnet chain configurations
var (
	// SolanaDevnet is the configuration for Solana devnet.
	// USDC address verified 2025-10-28.
	SolanaDevnet = ChainConfig{
		NetworkID:   "solana-devnet",
		Type:        NetworkTypeTransaction,
		USDCAddress: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		Decimals:    6,
	}

	// BaseSepolia is the configuration for Base Sepolia testnet.
	// USDC address and domain parameters verified 2025-10-30 via on-chain contract read.
	BaseSepolia = ChainConfig{
		NetworkID:     "base-sepolia",
		Type:          NetworkTypeAccount,
		USDCAddress:   "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:      6,
		DomainName:    "USDC",
		DomainVersion: "2",
	}

	// PolygonAmoy is the configuration for Polygon Amoy testnet.
	// USDC address and domain parameters verified 2025-10-28.
	PolygonAmoy = ChainConfig{
		NetworkID:     "polygon-amoy",
		Type:          NetworkTypeAccount,
		USDCAddress:   "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
		Decimals:      6,
		DomainName:    "USDC",
		DomainVersion: "2",
	}

	// AvalancheFuji is the configuration for Avalanche Fuji testnet.
	// USDC address and domain parameters verified 2025-10-28.
	AvalancheFuji = ChainConfig{
		NetworkID:     "avalanche-fuji",
		Type:          NetworkTypeAccount,
		USDCAddress:   "0x5425890298aed601595a70AB815c96711a31Bc65",
		Decimals:      6,
		DomainName:    "USD Coin",
		DomainVersion: "2",
	}
)

// chainRegistry indexes the built-in chain configurations by network ID.
var chainRegistry = map[string]ChainConfig{
	"base":           BaseMainnet,
	"base-sepolia":   BaseSepolia,
	"polygon":        PolygonMainnet,
	"polygon-amoy":   PolygonAmoy,
	"avalanche":      AvalancheMainnet,
	"avalanche-fuji": AvalancheFuji,
	"solana":         SolanaMainnet,
	"solana-devnet":  SolanaDevnet,
}

// LookupChain returns the built-in configuration for a network identifier.
func LookupChain(networkID string) (ChainConfig, bool) {
	chain, ok := chainRegistry[networkID]
	return chain, ok
}

// NetworkTypeOf returns the authorization family of a network identifier,
// or NetworkTypeUnknown for unrecognized networks. Unlike ValidateNetwork it
// never errors, which makes it suitable for codec dispatch.
func NetworkTypeOf(networkID string) NetworkType {
	if chain, ok := chainRegistry[networkID]; ok {
		return chain.Type
	}
	return NetworkTypeUnknown
}

// ValidateNetwork validates a network identifier and returns its family.
//
// Supported networks:
//   - account-based (EVM): base, base-sepolia, polygon, polygon-amoy, avalanche, avalanche-fuji
//   - transaction-based (SVM): solana, solana-devnet
func ValidateNetwork(networkID string) (NetworkType, error) {
	if networkID == "" {
		return NetworkTypeUnknown, NewValidationError(ReasonMissingField, "networkID cannot be empty", ErrInvalidNetwork)
	}

	chain, ok := chainRegistry[networkID]
	if !ok {
		return NetworkTypeUnknown, NewValidationError(ReasonUnsupportedNetwork, "unsupported network", ErrInvalidNetwork).
			WithDetails("network", networkID)
	}

	return chain.Type, nil
}

// validateAddressForNetwork checks that an address has the correct format
// for the network's family. Format only; existence is never checked locally.
func validateAddressForNetwork(networkID, address string) error {
	netType, err := ValidateNetwork(networkID)
	if err != nil {
		return err
	}

	switch netType {
	case NetworkTypeAccount:
		// 0x-prefixed hex, 42 chars total
		if len(address) != 42 || (address[0:2] != "0x" && address[0:2] != "0X") {
			return NewValidationError(ReasonInvalidAddress, "expected 0x-prefixed hex address (42 chars)", ErrInvalidAddress).
				WithDetails("address", address).
				WithDetails("network", networkID)
		}
		for i := 2; i < len(address); i++ {
			c := address[i]
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
				return NewValidationError(ReasonInvalidAddress, "expected 0x-prefixed hex address (42 chars)", ErrInvalidAddress).
					WithDetails("address", address).
					WithDetails("network", networkID)
			}
		}

	case NetworkTypeTransaction:
		// Base58, 32-44 chars, excluding 0, O, I, l
		if len(address) < 32 || len(address) > 44 {
			return NewValidationError(ReasonInvalidAddress, "expected base58 address (32-44 chars)", ErrInvalidAddress).
				WithDetails("address", address).
				WithDetails("network", networkID)
		}
		for i := 0; i < len(address); i++ {
			c := address[i]
			if !((c >= '1' && c <= '9') || (c >= 'A' && c <= 'Z' && c != 'I' && c != 'O') || (c >= 'a' && c <= 'z' && c != 'l')) {
				return NewValidationError(ReasonInvalidAddress, "expected base58 address (32-44 chars)", ErrInvalidAddress).
					WithDetails("address", address).
					WithDetails("network", networkID)
			}
		}
	}

	return nil
}

// ValidateTokenAddress validates that a token address matches the network's
// address format.
//
// For account-based networks (base, polygon, avalanche, ...):
//   - Address must be a 0x-prefixed hex string (42 characters total)
//   - Example: 0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913
//
// For transaction-based networks (solana, solana-devnet):
//   - Address must be base58 encoded (32-44 characters)
//   - Cannot contain 0, O, I, l characters (not valid in base58)
//   - Example: EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v
func ValidateTokenAddress(networkID, address string) error {
	if address == "" {
		return NewValidationError(ReasonMissingField, "token address cannot be empty", ErrInvalidToken)
	}
	return validateAddressForNetwork(networkID, address)
}

// NewUSDCTokenConfig creates a TokenConfig for USDC on the given chain.
// This is a convenience helper for USDC. For other tokens, construct
// TokenConfig directly.
func NewUSDCTokenConfig(chain ChainConfig) TokenConfig {
	return TokenConfig{
		Address:  chain.USDCAddress,
		Symbol:   "USDC",
		Decimals: int(chain.Decimals),
	}
}

// USDCRequirementConfig is the configuration for creating a USDC PaymentRequirement.
// This is a convenience helper for USDC payments. For other tokens, use
// http.PaymentHandler.CreateRequirements or construct PaymentRequirement directly.
type USDCRequirementConfig struct {
	// Chain selects the network and its USDC deployment (required).
	Chain ChainConfig

	// Amount is the USDC price in human units, e.g. "1.5". Zero amounts
	// ("0", "0.0") are allowed for sign-to-access flows.
	Amount string

	// RecipientAddress receives the payment (required).
	RecipientAddress string

	// Scheme overrides the payment scheme (default "exact").
	Scheme string

	// Description is free-form text shown to the payer.
	Description string

	// MaxTimeoutSeconds overrides the authorization validity window (default 300).
	MaxTimeoutSeconds uint32

	// MimeType overrides the response content type (default "application/json").
	MimeType string
}

// NewUSDCPaymentRequirement creates a PaymentRequirement for USDC from the
// given configuration. It validates inputs, converts the amount to atomic
// units via arbitrary-precision arithmetic (never float64), applies defaults
// for optional fields, and populates the EIP-712 domain parameters for
// account-based chains.
//
// Default values:
//   - Scheme: "exact"
//   - MaxTimeoutSeconds: 300
//   - MimeType: "application/json"
func NewUSDCPaymentRequirement(config USDCRequirementConfig) (PaymentRequirement, error) {
	if config.RecipientAddress == "" {
		return PaymentRequirement{}, NewValidationError(ReasonMissingField, "recipientAddress cannot be empty", ErrInvalidRequirements)
	}
	if err := validateAddressForNetwork(config.Chain.NetworkID, config.RecipientAddress); err != nil {
		return PaymentRequirement{}, err
	}

	if strings.HasPrefix(config.Amount, "-") {
		return PaymentRequirement{}, NewValidationError(ReasonInvalidAmount, "amount must be non-negative", ErrInvalidAmount)
	}
	atomic, err := AmountToBigInt(config.Amount, int(config.Chain.Decimals))
	if err != nil {
		return PaymentRequirement{}, NewValidationError(ReasonInvalidAmount, "amount has invalid format or excess precision", err)
	}

	scheme := config.Scheme
	if scheme == "" {
		scheme = "exact"
	}
	maxTimeout := config.MaxTimeoutSeconds
	if maxTimeout == 0 {
		maxTimeout = 300
	}
	mimeType := config.MimeType
	if mimeType == "" {
		mimeType = "application/json"
	}

	req := PaymentRequirement{
		Scheme:            scheme,
		Network:           config.Chain.NetworkID,
		MaxAmountRequired: atomic.String(),
		Asset:             config.Chain.USDCAddress,
		PayTo:             config.RecipientAddress,
		Description:       config.Description,
		MimeType:          mimeType,
		MaxTimeoutSeconds: int(maxTimeout),
	}

	// Account-based chains require the EIP-712 domain parameters
	if config.Chain.Type == NetworkTypeAccount {
		req.Extra = map[string]interface{}{
			"name":    config.Chain.DomainName,
			"version": config.Chain.DomainVersion,
		}
	}

	return req, nil
}
