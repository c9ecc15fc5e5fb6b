package server

import (
	"github.com/payguard/x402-go"
)

// Convenience constructors for USDC-priced tools. Amount is the
// human-readable USDC amount (e.g. "0.01"); asset addresses and EIP-712
// domain parameters come from the built-in chain configurations. Tool
// calls default to a 60 second payment timeout.

// RequireUSDCBase prices a tool in USDC on Base mainnet.
func RequireUSDCBase(payTo, amount, description string) (x402.PaymentRequirement, error) {
	return usdcRequirement(x402.BaseMainnet, payTo, amount, description)
}

// RequireUSDCBaseSepolia prices a tool in USDC on the Base Sepolia
// testnet.
func RequireUSDCBaseSepolia(payTo, amount, description string) (x402.PaymentRequirement, error) {
	return usdcRequirement(x402.BaseSepolia, payTo, amount, description)
}

// RequireUSDCPolygon prices a tool in USDC on Polygon PoS mainnet.
func RequireUSDCPolygon(payTo, amount, description string) (x402.PaymentRequirement, error) {
	return usdcRequirement(x402.PolygonMainnet, payTo, amount, description)
}

// RequireUSDCSolana prices a tool in USDC on Solana mainnet.
func RequireUSDCSolana(payTo, amount, description string) (x402.PaymentRequirement, error) {
	return usdcRequirement(x402.SolanaMainnet, payTo, amount, description)
}

// RequireUSDCSolanaDevnet prices a tool in USDC on Solana devnet.
func RequireUSDCSolanaDevnet(payTo, amount, description string) (x402.PaymentRequirement, error) {
	return usdcRequirement(x402.SolanaDevnet, payTo, amount, description)
}

func usdcRequirement(chain x402.ChainConfig, payTo, amount, description string) (x402.PaymentRequirement, error) {
	return x402.NewUSDCPaymentRequirement(x402.USDCRequirementConfig{
		Chain:             chain,
		Amount:            amount,
		RecipientAddress:  payTo,
		Description:       description,
		MaxTimeoutSeconds: 60,
	})
}
