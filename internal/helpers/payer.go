package helpers

import (
	"log/slog"

	"github.com/payguard/x402-go"
)

// GetPayer extracts the payer address from a payment payload. Account
// payloads declare it in the authorization; transaction payloads require
// decoding the signed transaction. Returns "" when the payer cannot be
// determined locally.
func GetPayer(payment x402.PaymentPayload) string {
	if payment.Account != nil {
		return payment.Account.Authorization.From
	}
	if payment.Transaction == nil {
		return ""
	}
	switch payment.Network {
	case x402.SolanaDevnet.NetworkID, x402.SolanaMainnet.NetworkID:
		payer, err := solanaPayer(payment.Transaction.Transaction)
		if err != nil {
			slog.Default().Warn("failed to extract solana payer", "error", err)
			return ""
		}
		return payer
	default:
		return ""
	}
}
