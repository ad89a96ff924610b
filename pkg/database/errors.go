// Package database provides sentinel errors for repository operations.
// Explicit errors instead of nil, nil returns on a missing row.
package database

import "errors"

var (
	ErrPrincipalNotFound   = errors.New("principal not found")
	ErrAgentNotFound       = errors.New("agent not found")
	ErrRuleNotFound        = errors.New("rule not found")
	ErrAttestationNotFound = errors.New("attestation not found")
	ErrBatchNotFound       = errors.New("batch not found")
	ErrDigestCollision     = errors.New("attestation digest already exists")
	ErrSequenceConflict    = errors.New("agent sequence counter conflict")
	ErrQuotaExceeded       = errors.New("monthly issuance quota exceeded")
)
