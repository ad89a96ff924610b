// Package attestation implements the attestation coordinator: the single
// atomic entry point through which every attestation is issued (§4.5).
package attestation

import "errors"

// Error taxonomy per the coordinator's contract. Each maps one-to-one to
// an HTTP status and code at the server boundary.
var (
	ErrQuotaExceeded     = errors.New("attestation: monthly issuance quota exceeded")
	ErrRuleNotFound      = errors.New("attestation: rule not found")
	ErrOwnershipMismatch = errors.New("attestation: rule is not owned by the calling agent")
	ErrRuleArchived      = errors.New("attestation: rule is archived")
	ErrRuleCorrupt       = errors.New("attestation: rule conditions fail registration-time validation")
	ErrRateLimited       = errors.New("attestation: rate limit exceeded")
	ErrAttestationNotFound = errors.New("attestation: attestation not found")
)
