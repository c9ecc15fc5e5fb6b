package x402

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"
)

func TestPaymentRequirementsResponse_JSON(t *testing.T) {
	resp := PaymentRequirementsResponse{
		X402Version: 1,
		Error:       "payment required",
		Accepts: []PaymentRequirement{{
			Scheme:            "exact",
			Network:           "base-sepolia",
			MaxAmountRequired: "25000",
			Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			PayTo:             testAccountRecipient,
			Resource:          "https://api.example.com/reports/q3",
			Description:       "Quarterly report access",
			MaxTimeoutSeconds: 120,
		}},
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	// The wire field is x402Version, not the Go name.
	if !strings.Contains(string(data), `"x402Version":1`) {
		t.Errorf("Expected x402Version key in wire form, got %s", data)
	}

	var decoded PaymentRequirementsResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if decoded.X402Version != 1 {
		t.Errorf("X402Version mismatch: got %d, want 1", decoded.X402Version)
	}
	if decoded.Error != resp.Error {
		t.Errorf("Error mismatch: got %s, want %s", decoded.Error, resp.Error)
	}
	if len(decoded.Accepts) != 1 {
		t.Fatalf("Accepts length mismatch: got %d, want 1", len(decoded.Accepts))
	}
	got := decoded.Accepts[0]
	if got.Network != "base-sepolia" || got.PayTo != testAccountRecipient || got.MaxAmountRequired != "25000" {
		t.Errorf("Accepts[0] mismatch: got %+v", got)
	}
}

func TestPaymentPayload_JSON_Account(t *testing.T) {
	payment := PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base-sepolia",
		Account: &AccountPayload{
			Signature: "0x2d6a7588d6acca505cbf0d9a4a227e0c52c6c34008c8e8986a1283259764173608a2ce6496642e377d6da8dbbf5836e9bd15092f9ecab05ded3d6293af148b571c",
			Authorization: AccountAuthorization{
				From:        "0x857b06519E91e3A54538791bDbb0E22373e36b66",
				To:          "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
				Value:       "10000",
				ValidAfter:  "1740672089",
				ValidBefore: "1740672154",
				Nonce:       "0xf3746613c2d920b5fdabc0856f2aeb2d4f88ee6037b8cc5d04a71a4462f13480",
			},
		},
	}

	data, err := json.Marshal(payment)
	if err != nil {
		t.Fatalf("Failed to marshal payment: %v", err)
	}

	// Wire form keeps the variant under a single "payload" key.
	if !strings.Contains(string(data), `"payload"`) {
		t.Errorf("Expected wire form to contain a payload key, got %s", data)
	}
	if !strings.Contains(string(data), `"authorization"`) {
		t.Errorf("Expected account wire form to contain an authorization key, got %s", data)
	}

	var decoded PaymentPayload
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal payment: %v", err)
	}

	if decoded.X402Version != payment.X402Version {
		t.Errorf("X402Version mismatch: got %d, want %d", decoded.X402Version, payment.X402Version)
	}
	if decoded.Scheme != payment.Scheme {
		t.Errorf("Scheme mismatch: got %s, want %s", decoded.Scheme, payment.Scheme)
	}
	if decoded.Network != payment.Network {
		t.Errorf("Network mismatch: got %s, want %s", decoded.Network, payment.Network)
	}
	if decoded.Transaction != nil {
		t.Error("Expected no transaction variant on an account payload")
	}
	if decoded.Account == nil {
		t.Fatal("Expected account variant to be set")
	}
	if decoded.Account.Signature != payment.Account.Signature {
		t.Errorf("Signature mismatch: got %s", decoded.Account.Signature)
	}
	if decoded.Account.Authorization.From != payment.Account.Authorization.From {
		t.Errorf("From mismatch: got %s", decoded.Account.Authorization.From)
	}
	if decoded.Account.Authorization.Nonce != payment.Account.Authorization.Nonce {
		t.Errorf("Nonce mismatch: got %s", decoded.Account.Authorization.Nonce)
	}
}

func TestPaymentPayload_JSON_Transaction(t *testing.T) {
	payment := PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "solana",
		Transaction: &TransactionPayload{
			Transaction: "AQAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=",
		},
	}

	data, err := json.Marshal(payment)
	if err != nil {
		t.Fatalf("Failed to marshal payment: %v", err)
	}

	var decoded PaymentPayload
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal payment: %v", err)
	}

	if decoded.Account != nil {
		t.Error("Expected no account variant on a transaction payload")
	}
	if decoded.Transaction == nil {
		t.Fatal("Expected transaction variant to be set")
	}
	if decoded.Transaction.Transaction != payment.Transaction.Transaction {
		t.Errorf("Transaction mismatch: got %s", decoded.Transaction.Transaction)
	}
}

func TestPaymentPayload_UnmarshalVariants(t *testing.T) {
	tests := []struct {
		name            string
		data            string
		wantAccount     bool
		wantTransaction bool
		wantErr         bool
	}{
		{
			name:        "authorization key selects account variant",
			data:        `{"x402Version":1,"scheme":"exact","network":"base","payload":{"signature":"0xabc","authorization":{"from":"0x1","to":"0x2","value":"10","validAfter":"0","validBefore":"99","nonce":"0xff"}}}`,
			wantAccount: true,
		},
		{
			name:            "transaction key selects transaction variant",
			data:            `{"x402Version":1,"scheme":"exact","network":"solana","payload":{"transaction":"dGVzdA=="}}`,
			wantTransaction: true,
		},
		{
			name: "missing payload leaves both variants nil",
			data: `{"x402Version":1,"scheme":"exact","network":"base"}`,
		},
		{
			name: "null payload leaves both variants nil",
			data: `{"x402Version":1,"scheme":"exact","network":"base","payload":null}`,
		},
		{
			name:    "malformed envelope",
			data:    `{"x402Version":"one"}`,
			wantErr: true,
		},
		{
			name:    "payload is not an object",
			data:    `{"x402Version":1,"scheme":"exact","network":"base","payload":"oops"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var decoded PaymentPayload
			err := json.Unmarshal([]byte(tt.data), &decoded)

			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}

			if got := decoded.Account != nil; got != tt.wantAccount {
				t.Errorf("Expected account variant set = %v, got %v", tt.wantAccount, got)
			}
			if got := decoded.Transaction != nil; got != tt.wantTransaction {
				t.Errorf("Expected transaction variant set = %v, got %v", tt.wantTransaction, got)
			}
		})
	}
}

func TestPaymentPayload_Payer(t *testing.T) {
	account := PaymentPayload{
		Account: &AccountPayload{
			Authorization: AccountAuthorization{
				From: "0x857b06519E91e3A54538791bDbb0E22373e36b66",
			},
		},
	}
	if got := account.Payer(); got != "0x857b06519E91e3A54538791bDbb0E22373e36b66" {
		t.Errorf("Expected account payer from authorization, got %s", got)
	}

	transaction := PaymentPayload{
		Transaction: &TransactionPayload{Transaction: "dGVzdA=="},
	}
	if got := transaction.Payer(); got != "" {
		t.Errorf("Expected empty payer for transaction payload, got %s", got)
	}

	var empty PaymentPayload
	if got := empty.Payer(); got != "" {
		t.Errorf("Expected empty payer for empty payload, got %s", got)
	}
}

func TestAmountToBigInt(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int
		want     string
		wantErr  bool
	}{
		{
			name:     "whole amount",
			amount:   "1",
			decimals: 6,
			want:     "1000000",
		},
		{
			name:     "fractional amount",
			amount:   "1.5",
			decimals: 6,
			want:     "1500000",
		},
		{
			name:     "fraction only",
			amount:   "0.000001",
			decimals: 6,
			want:     "1",
		},
		{
			name:     "leading dot",
			amount:   ".5",
			decimals: 6,
			want:     "500000",
		},
		{
			name:     "zero",
			amount:   "0",
			decimals: 6,
			want:     "0",
		},
		{
			name:     "trailing zeros beyond precision allowed",
			amount:   "1.5000000000",
			decimals: 6,
			want:     "1500000",
		},
		{
			name:     "excess precision rejected",
			amount:   "1.0000001",
			decimals: 6,
			wantErr:  true,
		},
		{
			name:     "empty string",
			amount:   "",
			decimals: 6,
			wantErr:  true,
		},
		{
			name:     "bare dot",
			amount:   ".",
			decimals: 6,
			wantErr:  true,
		},
		{
			name:     "non-numeric",
			amount:   "1.2abc",
			decimals: 6,
			wantErr:  true,
		},
		{
			name:     "negative decimals",
			amount:   "1",
			decimals: -1,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AmountToBigInt(tt.amount, tt.decimals)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AmountToBigInt() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.String() != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got.String())
			}
		})
	}
}

func TestBigIntToAmount(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		decimals int
		want     string
	}{
		{
			name:     "six decimals",
			value:    "1500000",
			decimals: 6,
			want:     "1.500000",
		},
		{
			name:     "smaller than one unit",
			value:    "1",
			decimals: 6,
			want:     "0.000001",
		},
		{
			name:     "zero decimals",
			value:    "42",
			decimals: 0,
			want:     "42",
		},
		{
			name:     "zero value",
			value:    "0",
			decimals: 6,
			want:     "0.000000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := new(big.Int).SetString(tt.value, 10)
			if !ok {
				t.Fatalf("bad test value %s", tt.value)
			}
			if got := BigIntToAmount(v, tt.decimals); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}
