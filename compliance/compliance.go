// Package compliance screens payer addresses against a block policy
// before a payment is accepted.
//
// The Denylist is the in-memory implementation for single-instance
// deployments; production systems screening against sanctions feeds or
// shared policy stores implement the same ComplianceChecker interface
// backed by their own source. EVM-style 0x addresses are matched
// case-insensitively because mixed-case hex is only a checksum; base58
// addresses are case-sensitive and matched verbatim.
package compliance

import (
	"context"
	"strings"
	"sync"

	"github.com/payguard/x402-go"
)

// Denylist is an in-memory address block list. Entries apply across all
// networks: the same entity typically controls the same 0x address on
// every EVM chain, so blocking is by address, not (address, network).
type Denylist struct {
	mu      sync.RWMutex
	blocked map[string]string
}

// NewDenylist creates an empty denylist. Addresses may be preloaded with
// Block before the list is handed to the payment pipeline.
func NewDenylist() *Denylist {
	return &Denylist{
		blocked: make(map[string]string),
	}
}

// normalizeAddress folds 0x-prefixed hex addresses to lower case so that
// checksummed and lowercased forms of the same account compare equal.
// Other address forms (base58) pass through unchanged.
func normalizeAddress(address string) string {
	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		return strings.ToLower(address)
	}
	return address
}

// Block adds the address to the denylist with a policy reason. Blocking
// an already-blocked address replaces its reason.
func (d *Denylist) Block(address, reason string) {
	if address == "" {
		return
	}
	if reason == "" {
		reason = "address blocked by policy"
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocked[normalizeAddress(address)] = reason
}

// Unblock removes the address from the denylist.
func (d *Denylist) Unblock(address string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.blocked, normalizeAddress(address))
}

// Len reports the number of blocked addresses.
func (d *Denylist) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.blocked)
}

// CheckAddress reports whether the address is blocked and the policy
// reason when it is. The network parameter is accepted for interface
// compatibility; denylist entries apply on every network.
func (d *Denylist) CheckAddress(ctx context.Context, address, network string) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}
	if address == "" {
		return false, "", x402.NewValidationError(x402.ReasonMissingField, "compliance check requires an address", nil)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	reason, exists := d.blocked[normalizeAddress(address)]
	if !exists {
		return false, "", nil
	}
	return true, reason, nil
}

var _ x402.ComplianceChecker = (*Denylist)(nil)
