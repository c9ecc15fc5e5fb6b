package x402

// FindMatchingRequirement returns the first requirement whose scheme and
// network exactly match the payment. Matching is case-sensitive: scheme and
// network identifiers are protocol constants, not user input.
//
// When nothing matches, the error distinguishes an unknown scheme from a
// known scheme on the wrong network so 402 responses can tell the client
// which side to fix.
func FindMatchingRequirement(payment PaymentPayload, requirements []PaymentRequirement) (*PaymentRequirement, error) {
	schemeKnown := false
	for i := range requirements {
		if requirements[i].Scheme != payment.Scheme {
			continue
		}
		schemeKnown = true
		if requirements[i].Network == payment.Network {
			return &requirements[i], nil
		}
	}

	if schemeKnown {
		return nil, NewPaymentError(ErrCodePaymentRejected, "no requirement accepts this network", ErrUnsupportedNetwork).
			WithReason(ReasonUnsupportedNetwork).
			WithDetails("network", payment.Network).
			WithDetails("scheme", payment.Scheme)
	}
	return nil, NewPaymentError(ErrCodePaymentRejected, "no requirement accepts this scheme", ErrUnsupportedScheme).
		WithReason(ReasonUnsupportedScheme).
		WithDetails("network", payment.Network).
		WithDetails("scheme", payment.Scheme)
}
