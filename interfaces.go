package x402

import (
	"context"
	"time"
)

// Facilitator is the outbound contract for the remote service that performs
// cryptographic verification and on-chain settlement. The verification
// pipeline consumes this interface only; facilitator.Client is the HTTP
// implementation.
type Facilitator interface {
	// Verify checks a payment authorization without executing the transaction.
	Verify(ctx context.Context, payment PaymentPayload, requirement PaymentRequirement) (*VerifyResponse, error)

	// Settle executes a verified payment on the blockchain.
	Settle(ctx context.Context, payment PaymentPayload, requirement PaymentRequirement) (*SettlementResponse, error)

	// Supported queries the facilitator for its supported configuration.
	Supported(ctx context.Context) (*SupportedResponse, error)
}

// MetricsSink receives counters, timings, and gauges from the pipeline.
// Implementations must be safe for concurrent use. The pipeline emits
// x402.verify.* and x402.settle.* series.
type MetricsSink interface {
	Count(name string, delta int64, tags map[string]string)
	Timing(name string, d time.Duration, tags map[string]string)
	Gauge(name string, value float64, tags map[string]string)
}

// NopMetrics discards all metrics. It is the default sink when none is
// configured.
type NopMetrics struct{}

func (NopMetrics) Count(string, int64, map[string]string) {}

func (NopMetrics) Timing(string, time.Duration, map[string]string) {}

func (NopMetrics) Gauge(string, float64, map[string]string) {}

// ComplianceChecker screens payer addresses before a payment is accepted.
// A blocked address rejects the payment with reason compliance_blocked.
type ComplianceChecker interface {
	// CheckAddress reports whether the address is blocked on the given
	// network, and the policy reason when it is.
	CheckAddress(ctx context.Context, address, network string) (blocked bool, reason string, err error)
}
