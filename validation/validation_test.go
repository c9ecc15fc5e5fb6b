package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/payguard/x402-go"
)

const (
	maxUint256Test  = "115792089237316195423570985008687907853269984665640564039457584007913129639935"
	overUint256Test = "115792089237316195423570985008687907853269984665640564039457584007913129639936"
)

func TestIsValidUintString(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{
			name:  "zero",
			value: "0",
			want:  true,
		},
		{
			name:  "small value",
			value: "10000",
			want:  true,
		},
		{
			name:  "max uint256",
			value: maxUint256Test,
			want:  true,
		},
		{
			name:  "one above max uint256",
			value: overUint256Test,
			want:  false,
		},
		{
			name:  "79 digits",
			value: "1" + strings.Repeat("0", 78),
			want:  false,
		},
		{
			name:  "empty",
			value: "",
			want:  false,
		},
		{
			name:  "leading zeros",
			value: "007",
			want:  false,
		},
		{
			name:  "negative",
			value: "-1",
			want:  false,
		},
		{
			name:  "plus sign",
			value: "+1",
			want:  false,
		},
		{
			name:  "decimal",
			value: "1.5",
			want:  false,
		},
		{
			name:  "hex",
			value: "0x10",
			want:  false,
		},
		{
			name:  "letters",
			value: "abc",
			want:  false,
		},
		{
			name:  "whitespace",
			value: " 100",
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidUintString(tt.value); got != tt.want {
				t.Errorf("IsValidUintString(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestCompareUintStrings(t *testing.T) {
	tests := []struct {
		name    string
		a       string
		b       string
		want    int
		wantErr bool
	}{
		{
			name: "equal",
			a:    "10000",
			b:    "10000",
			want: 0,
		},
		{
			name: "shorter is less",
			a:    "999",
			b:    "1000",
			want: -1,
		},
		{
			name: "longer is greater",
			a:    "1000",
			b:    "999",
			want: 1,
		},
		{
			name: "same length lexicographic",
			a:    "1999",
			b:    "2000",
			want: -1,
		},
		{
			name: "zero against max",
			a:    "0",
			b:    maxUint256Test,
			want: -1,
		},
		{
			name:    "leading zeros rejected",
			a:       "007",
			b:       "7",
			wantErr: true,
		},
		{
			name:    "malformed right operand",
			a:       "7",
			b:       "seven",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CompareUintStrings(tt.a, tt.b)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CompareUintStrings() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if x402.CodeOf(err) != x402.ErrCodeValidation {
					t.Errorf("Expected code %s, got %s", x402.ErrCodeValidation, x402.CodeOf(err))
				}
				return
			}
			if got != tt.want {
				t.Errorf("CompareUintStrings(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSafeAddUint256(t *testing.T) {
	tests := []struct {
		name    string
		a       string
		b       string
		want    string
		wantErr bool
	}{
		{
			name: "simple addition",
			a:    "1",
			b:    "2",
			want: "3",
		},
		{
			name: "zero identity",
			a:    "0",
			b:    maxUint256Test,
			want: maxUint256Test,
		},
		{
			name:    "overflow by one",
			a:       maxUint256Test,
			b:       "1",
			wantErr: true,
		},
		{
			name:    "malformed operand",
			a:       "abc",
			b:       "1",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SafeAddUint256(tt.a, tt.b)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SafeAddUint256() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("SafeAddUint256(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
			}
		})
	}

	t.Run("overflow wraps ErrOverflow", func(t *testing.T) {
		_, err := SafeAddUint256(maxUint256Test, "1")
		if !errors.Is(err, x402.ErrOverflow) {
			t.Errorf("Expected error to wrap ErrOverflow, got %v", err)
		}
		if x402.ReasonOf(err) != x402.ReasonOverflow {
			t.Errorf("Expected reason %s, got %s", x402.ReasonOverflow, x402.ReasonOf(err))
		}
	})
}

func TestSafeMulUint256(t *testing.T) {
	tests := []struct {
		name    string
		a       string
		b       string
		want    string
		wantErr bool
	}{
		{
			name: "simple multiplication",
			a:    "6",
			b:    "7",
			want: "42",
		},
		{
			name: "multiply by zero",
			a:    maxUint256Test,
			b:    "0",
			want: "0",
		},
		{
			name: "multiply by one keeps max",
			a:    maxUint256Test,
			b:    "1",
			want: maxUint256Test,
		},
		{
			name:    "overflow",
			a:       maxUint256Test,
			b:       "2",
			wantErr: true,
		},
		{
			name:    "malformed operand",
			a:       "2",
			b:       "-3",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SafeMulUint256(tt.a, tt.b)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SafeMulUint256() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("SafeMulUint256(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestIsValidNonce(t *testing.T) {
	tests := []struct {
		name  string
		nonce string
		want  bool
	}{
		{
			name:  "valid nonce",
			nonce: "0xf3746613c2d920b5fdabc0856f2aeb2d4f88ee6037b8cc5d04a71a4462f13480",
			want:  true,
		},
		{
			name:  "valid nonce uppercase hex",
			nonce: "0xF3746613C2D920B5FDABC0856F2AEB2D4F88EE6037B8CC5D04A71A4462F13480",
			want:  true,
		},
		{
			name:  "missing prefix",
			nonce: "f3746613c2d920b5fdabc0856f2aeb2d4f88ee6037b8cc5d04a71a4462f13480",
			want:  false,
		},
		{
			name:  "too short",
			nonce: "0x1234",
			want:  false,
		},
		{
			name:  "too long",
			nonce: "0xf3746613c2d920b5fdabc0856f2aeb2d4f88ee6037b8cc5d04a71a4462f13480ff",
			want:  false,
		},
		{
			name:  "non-hex characters",
			nonce: "0xg3746613c2d920b5fdabc0856f2aeb2d4f88ee6037b8cc5d04a71a4462f1348z",
			want:  false,
		},
		{
			name:  "empty",
			nonce: "",
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidNonce(tt.nonce); got != tt.want {
				t.Errorf("IsValidNonce(%q) = %v, want %v", tt.nonce, got, tt.want)
			}
		})
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{
			name:   "plain string unchanged",
			input:  "Premium data access",
			maxLen: 100,
			want:   "Premium data access",
		},
		{
			name:   "control characters stripped",
			input:  "hello\x00\x1bworld\n",
			maxLen: 100,
			want:   "helloworld",
		},
		{
			name:   "truncated to max length",
			input:  "abcdefghij",
			maxLen: 4,
			want:   "abcd",
		},
		{
			name:   "html escaped",
			input:  `<script>alert("x")</script>`,
			maxLen: 100,
			want:   "&lt;script&gt;alert(&#34;x&#34;)&lt;/script&gt;",
		},
		{
			name:   "zero max length means no truncation",
			input:  "abcdefghij",
			maxLen: 0,
			want:   "abcdefghij",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeString(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SanitizeString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestSanitizeURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{
			name: "https url",
			url:  "https://api.example.com/data",
			want: "https://api.example.com/data",
		},
		{
			name: "http url",
			url:  "http://localhost:8080/weather",
			want: "http://localhost:8080/weather",
		},
		{
			name:    "empty",
			url:     "",
			wantErr: true,
		},
		{
			name:    "javascript scheme",
			url:     "javascript:alert(1)",
			wantErr: true,
		},
		{
			name:    "file scheme",
			url:     "file:///etc/passwd",
			wantErr: true,
		},
		{
			name:    "relative path",
			url:     "/api/data",
			wantErr: true,
		},
		{
			name:    "missing host",
			url:     "https://",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SanitizeURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if x402.CodeOf(err) != x402.ErrCodeValidation {
					t.Errorf("Expected code %s, got %s", x402.ErrCodeValidation, x402.CodeOf(err))
				}
				return
			}
			if got != tt.want {
				t.Errorf("SanitizeURL(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		name        string
		address     string
		networkType x402.NetworkType
		want        bool
	}{
		{
			name:        "valid hex address",
			address:     "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			networkType: x402.NetworkTypeAccount,
			want:        true,
		},
		{
			name:        "valid base58 address",
			address:     "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			networkType: x402.NetworkTypeTransaction,
			want:        true,
		},
		{
			name:        "hex address on transaction network",
			address:     "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			networkType: x402.NetworkTypeTransaction,
			want:        false,
		},
		{
			name:        "base58 address on account network",
			address:     "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			networkType: x402.NetworkTypeAccount,
			want:        false,
		},
		{
			name:        "unknown network type",
			address:     "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			networkType: x402.NetworkTypeUnknown,
			want:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidAddress(tt.address, tt.networkType); got != tt.want {
				t.Errorf("IsValidAddress(%q, %v) = %v, want %v", tt.address, tt.networkType, got, tt.want)
			}
		})
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		network string
		wantErr bool
	}{
		{
			name:    "valid hex address on base",
			address: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
			network: "base",
		},
		{
			name:    "valid base58 address on solana",
			address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			network: "solana",
		},
		{
			name:    "empty address",
			address: "",
			network: "base",
			wantErr: true,
		},
		{
			name:    "unknown network",
			address: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
			network: "ethereum",
			wantErr: true,
		},
		{
			name:    "wrong family",
			address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			network: "base",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.address, tt.network)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAddress() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		wantErr bool
	}{
		{
			name:   "valid positive amount",
			amount: "10000",
		},
		{
			name:   "zero allowed",
			amount: "0",
		},
		{
			name:   "max uint256",
			amount: maxUint256Test,
		},
		{
			name:    "empty amount",
			amount:  "",
			wantErr: true,
		},
		{
			name:    "negative amount",
			amount:  "-100",
			wantErr: true,
		},
		{
			name:    "above uint256",
			amount:  overUint256Test,
			wantErr: true,
		},
		{
			name:    "leading zeros",
			amount:  "007",
			wantErr: true,
		},
		{
			name:    "decimal",
			amount:  "100.50",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAmount(tt.amount)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAmount() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func validRequirement() x402.PaymentRequirement {
	return x402.PaymentRequirement{
		Scheme:            "exact",
		Network:           "base-sepolia",
		MaxAmountRequired: "10000",
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		Resource:          "https://api.example.com/data",
		Description:       "Premium data access",
		MaxTimeoutSeconds: 60,
		Extra: map[string]interface{}{
			"name":    "USDC",
			"version": "2",
		},
	}
}

func TestValidatePaymentRequirement(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*x402.PaymentRequirement)
		wantErr    bool
		wantReason x402.Reason
	}{
		{
			name:   "valid requirement",
			mutate: func(r *x402.PaymentRequirement) {},
		},
		{
			name: "valid transaction-based requirement without extra",
			mutate: func(r *x402.PaymentRequirement) {
				r.Network = "solana"
				r.Asset = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
				r.PayTo = "DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK"
				r.Extra = nil
			},
		},
		{
			name: "empty amount",
			mutate: func(r *x402.PaymentRequirement) {
				r.MaxAmountRequired = ""
			},
			wantErr:    true,
			wantReason: x402.ReasonMissingField,
		},
		{
			name: "negative amount",
			mutate: func(r *x402.PaymentRequirement) {
				r.MaxAmountRequired = "-100"
			},
			wantErr:    true,
			wantReason: x402.ReasonInvalidAmount,
		},
		{
			name: "unsupported network",
			mutate: func(r *x402.PaymentRequirement) {
				r.Network = "ethereum"
			},
			wantErr:    true,
			wantReason: x402.ReasonUnsupportedNetwork,
		},
		{
			name: "missing payTo",
			mutate: func(r *x402.PaymentRequirement) {
				r.PayTo = ""
			},
			wantErr:    true,
			wantReason: x402.ReasonMissingField,
		},
		{
			name: "malformed payTo",
			mutate: func(r *x402.PaymentRequirement) {
				r.PayTo = "0x1234"
			},
			wantErr:    true,
			wantReason: x402.ReasonInvalidAddress,
		},
		{
			name: "missing asset",
			mutate: func(r *x402.PaymentRequirement) {
				r.Asset = ""
			},
			wantErr:    true,
			wantReason: x402.ReasonMissingField,
		},
		{
			name: "missing scheme",
			mutate: func(r *x402.PaymentRequirement) {
				r.Scheme = ""
			},
			wantErr:    true,
			wantReason: x402.ReasonMissingField,
		},
		{
			name: "unsupported scheme",
			mutate: func(r *x402.PaymentRequirement) {
				r.Scheme = "subscription"
			},
			wantErr:    true,
			wantReason: x402.ReasonUnsupportedScheme,
		},
		{
			name: "negative timeout",
			mutate: func(r *x402.PaymentRequirement) {
				r.MaxTimeoutSeconds = -1
			},
			wantErr:    true,
			wantReason: x402.ReasonInvalidTimestamp,
		},
		{
			name: "bad resource url",
			mutate: func(r *x402.PaymentRequirement) {
				r.Resource = "ftp://example.com/data"
			},
			wantErr:    true,
			wantReason: x402.ReasonInvalidURL,
		},
		{
			name: "account network missing domain params",
			mutate: func(r *x402.PaymentRequirement) {
				r.Extra = nil
			},
			wantErr:    true,
			wantReason: x402.ReasonMissingDomainParams,
		},
		{
			name: "account network empty domain name",
			mutate: func(r *x402.PaymentRequirement) {
				r.Extra = map[string]interface{}{"name": "", "version": "2"}
			},
			wantErr:    true,
			wantReason: x402.ReasonMissingDomainParams,
		},
		{
			name: "account network missing domain version",
			mutate: func(r *x402.PaymentRequirement) {
				r.Extra = map[string]interface{}{"name": "USDC"}
			},
			wantErr:    true,
			wantReason: x402.ReasonMissingDomainParams,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequirement()
			tt.mutate(&req)

			err := ValidatePaymentRequirement(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePaymentRequirement() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if x402.CodeOf(err) != x402.ErrCodeValidation {
					t.Errorf("Expected code %s, got %s", x402.ErrCodeValidation, x402.CodeOf(err))
				}
				if tt.wantReason != "" && x402.ReasonOf(err) != tt.wantReason {
					t.Errorf("Expected reason %s, got %s", tt.wantReason, x402.ReasonOf(err))
				}
			}
		})
	}
}

func validAccountPayment() x402.PaymentPayload {
	return x402.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base-sepolia",
		Account: &x402.AccountPayload{
			Signature: "0x2d6a7588d6acca505cbf0d9a4a227e0c52c6c34008c8e8986a1283259764173608a2ce6496642e377d6da8dbbf5836e9bd15092f9ecab05ded3d6293af148b571c",
			Authorization: x402.AccountAuthorization{
				From:        "0x857b06519E91e3A54538791bDbb0E22373e36b66",
				To:          "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
				Value:       "10000",
				ValidAfter:  "1740672089",
				ValidBefore: "1740672154",
				Nonce:       "0xf3746613c2d920b5fdabc0856f2aeb2d4f88ee6037b8cc5d04a71a4462f13480",
			},
		},
	}
}

func TestValidatePaymentPayload(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*x402.PaymentPayload)
		wantErr    bool
		wantReason x402.Reason
	}{
		{
			name:   "valid account payload",
			mutate: func(p *x402.PaymentPayload) {},
		},
		{
			name: "valid transaction payload",
			mutate: func(p *x402.PaymentPayload) {
				p.Network = "solana"
				p.Account = nil
				p.Transaction = &x402.TransactionPayload{Transaction: "dGVzdA=="}
			},
		},
		{
			name: "unsupported version",
			mutate: func(p *x402.PaymentPayload) {
				p.X402Version = 2
			},
			wantErr:    true,
			wantReason: x402.ReasonUnsupportedVersion,
		},
		{
			name: "missing scheme",
			mutate: func(p *x402.PaymentPayload) {
				p.Scheme = ""
			},
			wantErr:    true,
			wantReason: x402.ReasonMissingField,
		},
		{
			name: "missing network",
			mutate: func(p *x402.PaymentPayload) {
				p.Network = ""
			},
			wantErr:    true,
			wantReason: x402.ReasonMissingField,
		},
		{
			name: "unknown network",
			mutate: func(p *x402.PaymentPayload) {
				p.Network = "arbitrum"
			},
			wantErr:    true,
			wantReason: x402.ReasonUnsupportedNetwork,
		},
		{
			name: "account network with transaction payload",
			mutate: func(p *x402.PaymentPayload) {
				p.Account = nil
				p.Transaction = &x402.TransactionPayload{Transaction: "dGVzdA=="}
			},
			wantErr:    true,
			wantReason: x402.ReasonVariantMismatch,
		},
		{
			name: "transaction network with account payload",
			mutate: func(p *x402.PaymentPayload) {
				p.Network = "solana"
			},
			wantErr:    true,
			wantReason: x402.ReasonVariantMismatch,
		},
		{
			name: "both variants set",
			mutate: func(p *x402.PaymentPayload) {
				p.Transaction = &x402.TransactionPayload{Transaction: "dGVzdA=="}
			},
			wantErr:    true,
			wantReason: x402.ReasonVariantMismatch,
		},
		{
			name: "missing signature",
			mutate: func(p *x402.PaymentPayload) {
				p.Account.Signature = ""
			},
			wantErr:    true,
			wantReason: x402.ReasonInvalidSignature,
		},
		{
			name: "signature not hex",
			mutate: func(p *x402.PaymentPayload) {
				p.Account.Signature = "invalid-signature"
			},
			wantErr:    true,
			wantReason: x402.ReasonInvalidSignature,
		},
		{
			name: "invalid from address",
			mutate: func(p *x402.PaymentPayload) {
				p.Account.Authorization.From = "invalid-address"
			},
			wantErr:    true,
			wantReason: x402.ReasonInvalidAddress,
		},
		{
			name: "invalid to address",
			mutate: func(p *x402.PaymentPayload) {
				p.Account.Authorization.To = "invalid-address"
			},
			wantErr:    true,
			wantReason: x402.ReasonInvalidAddress,
		},
		{
			name: "zero-padded value",
			mutate: func(p *x402.PaymentPayload) {
				p.Account.Authorization.Value = "007"
			},
			wantErr:    true,
			wantReason: x402.ReasonInvalidAmount,
		},
		{
			name: "malformed validAfter",
			mutate: func(p *x402.PaymentPayload) {
				p.Account.Authorization.ValidAfter = "now"
			},
			wantErr:    true,
			wantReason: x402.ReasonInvalidTimestamp,
		},
		{
			name: "validBefore not after validAfter",
			mutate: func(p *x402.PaymentPayload) {
				p.Account.Authorization.ValidAfter = "1740672154"
				p.Account.Authorization.ValidBefore = "1740672089"
			},
			wantErr:    true,
			wantReason: x402.ReasonInvalidTimestamp,
		},
		{
			name: "short nonce",
			mutate: func(p *x402.PaymentPayload) {
				p.Account.Authorization.Nonce = "0x1234"
			},
			wantErr:    true,
			wantReason: x402.ReasonInvalidNonce,
		},
		{
			name: "empty transaction",
			mutate: func(p *x402.PaymentPayload) {
				p.Network = "solana"
				p.Account = nil
				p.Transaction = &x402.TransactionPayload{Transaction: ""}
			},
			wantErr:    true,
			wantReason: x402.ReasonInvalidTransaction,
		},
		{
			name: "transaction not base64",
			mutate: func(p *x402.PaymentPayload) {
				p.Network = "solana"
				p.Account = nil
				p.Transaction = &x402.TransactionPayload{Transaction: "not!!base64"}
			},
			wantErr:    true,
			wantReason: x402.ReasonInvalidTransaction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payment := validAccountPayment()
			tt.mutate(&payment)

			err := ValidatePaymentPayload(payment)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePaymentPayload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if x402.CodeOf(err) != x402.ErrCodeValidation {
					t.Errorf("Expected code %s, got %s", x402.ErrCodeValidation, x402.CodeOf(err))
				}
				if tt.wantReason != "" && x402.ReasonOf(err) != tt.wantReason {
					t.Errorf("Expected reason %s, got %s", tt.wantReason, x402.ReasonOf(err))
				}
			}
		})
	}
}
