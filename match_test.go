package x402

import (
	"errors"
	"testing"
)

func TestFindMatchingRequirement(t *testing.T) {
	tests := []struct {
		name         string
		payment      PaymentPayload
		requirements []PaymentRequirement
		wantAsset    string
		wantErr      bool
		wantReason   Reason
		wantSentinel error
	}{
		{
			name: "exact match found",
			payment: PaymentPayload{
				Network: "base",
				Scheme:  "exact",
			},
			requirements: []PaymentRequirement{
				{Network: "polygon", Scheme: "exact", Asset: "0x123"},
				{Network: "base", Scheme: "exact", Asset: "0x456"},
			},
			wantAsset: "0x456",
		},
		{
			name: "match among multiple networks",
			payment: PaymentPayload{
				Network: "solana",
				Scheme:  "exact",
			},
			requirements: []PaymentRequirement{
				{Network: "base", Scheme: "exact", Asset: "0xabc"},
				{Network: "solana", Scheme: "exact", Asset: "So11111"},
				{Network: "polygon", Scheme: "exact", Asset: "0xdef"},
			},
			wantAsset: "So11111",
		},
		{
			name: "known scheme wrong network",
			payment: PaymentPayload{
				Network: "avalanche",
				Scheme:  "exact",
			},
			requirements: []PaymentRequirement{
				{Network: "base", Scheme: "exact", Asset: "0x123"},
				{Network: "polygon", Scheme: "exact", Asset: "0x456"},
			},
			wantErr:      true,
			wantReason:   ReasonUnsupportedNetwork,
			wantSentinel: ErrUnsupportedNetwork,
		},
		{
			name: "unknown scheme",
			payment: PaymentPayload{
				Network: "base",
				Scheme:  "streaming",
			},
			requirements: []PaymentRequirement{
				{Network: "base", Scheme: "exact", Asset: "0x123"},
			},
			wantErr:      true,
			wantReason:   ReasonUnsupportedScheme,
			wantSentinel: ErrUnsupportedScheme,
		},
		{
			name: "empty requirements list",
			payment: PaymentPayload{
				Network: "base",
				Scheme:  "exact",
			},
			requirements: []PaymentRequirement{},
			wantErr:      true,
			wantReason:   ReasonUnsupportedScheme,
			wantSentinel: ErrUnsupportedScheme,
		},
		{
			name: "network match is case sensitive",
			payment: PaymentPayload{
				Network: "BASE",
				Scheme:  "exact",
			},
			requirements: []PaymentRequirement{
				{Network: "base", Scheme: "exact", Asset: "0x123"},
			},
			wantErr:      true,
			wantReason:   ReasonUnsupportedNetwork,
			wantSentinel: ErrUnsupportedNetwork,
		},
		{
			name: "scheme match is case sensitive",
			payment: PaymentPayload{
				Network: "base",
				Scheme:  "EXACT",
			},
			requirements: []PaymentRequirement{
				{Network: "base", Scheme: "exact", Asset: "0x123"},
			},
			wantErr:      true,
			wantReason:   ReasonUnsupportedScheme,
			wantSentinel: ErrUnsupportedScheme,
		},
		{
			name: "first matching requirement returned",
			payment: PaymentPayload{
				Network: "base",
				Scheme:  "exact",
			},
			requirements: []PaymentRequirement{
				{Network: "base", Scheme: "exact", Asset: "0x111", MaxAmountRequired: "100"},
				{Network: "base", Scheme: "exact", Asset: "0x222", MaxAmountRequired: "200"},
			},
			wantAsset: "0x111",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := FindMatchingRequirement(tt.payment, tt.requirements)

			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}

				var paymentErr *PaymentError
				if !errors.As(err, &paymentErr) {
					t.Fatalf("Expected PaymentError, got %T", err)
				}
				if paymentErr.Code != ErrCodePaymentRejected {
					t.Errorf("Expected code %s, got %s", ErrCodePaymentRejected, paymentErr.Code)
				}
				if paymentErr.Reason != tt.wantReason {
					t.Errorf("Expected reason %s, got %s", tt.wantReason, paymentErr.Reason)
				}
				if !errors.Is(err, tt.wantSentinel) {
					t.Errorf("Expected error to wrap %v, got %v", tt.wantSentinel, err)
				}
				if _, ok := paymentErr.Details["network"]; !ok {
					t.Error("Expected error details to include network")
				}
				if _, ok := paymentErr.Details["scheme"]; !ok {
					t.Error("Expected error details to include scheme")
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if req == nil {
				t.Fatal("Expected a requirement, got nil")
			}
			if req.Asset != tt.wantAsset {
				t.Errorf("Expected asset %s, got %s", tt.wantAsset, req.Asset)
			}
		})
	}
}
