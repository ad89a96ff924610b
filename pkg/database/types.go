package database

import (
	"time"

	"github.com/google/uuid"
)

// PrincipalState is the lifecycle state of a principal's account.
type PrincipalState string

const (
	PrincipalStateActive    PrincipalState = "active"
	PrincipalStateSuspended PrincipalState = "suspended"
)

// Principal is a human or organization that owns agents and a tier-scoped
// monthly issuance quota.
type Principal struct {
	PrincipalID      uuid.UUID      `json:"principal_id"`
	Tier             string         `json:"tier"`
	MonthlyQuota     int64          `json:"monthly_quota"`
	MonthlyIssued    int64          `json:"monthly_issued"`
	QuotaPeriodStart time.Time      `json:"quota_period_start"`
	State            PrincipalState `json:"state"`
	CreatedAt        time.Time      `json:"created_at"`
}

// AgentState is the lifecycle state of an agent identity.
type AgentState string

const (
	AgentStateActive    AgentState = "active"
	AgentStateSuspended AgentState = "suspended"
	AgentStateDeleted   AgentState = "deleted"
)

// Agent is a credentialed issuer of attestations, owning a monotonic
// per-agent sequence counter.
type Agent struct {
	AgentID     uuid.UUID  `json:"agent_id"`
	PrincipalID uuid.UUID  `json:"principal_id"`
	State       AgentState `json:"state"`
	Sequence    int64      `json:"sequence"`
	CreatedAt   time.Time  `json:"created_at"`
}

// RuleState is the lifecycle state of a rule.
type RuleState string

const (
	RuleStateActive   RuleState = "active"
	RuleStateArchived RuleState = "archived"
)

// Rule is an immutable-per-version conjunction of conditions owned by
// one agent. ConditionsJSON holds the canonical JSON encoding of
// []rule.Condition.
type Rule struct {
	RuleID         uuid.UUID `json:"rule_id"`
	AgentID        uuid.UUID `json:"agent_id"`
	Name           string    `json:"name"`
	ConditionsJSON []byte    `json:"conditions"`
	Version        int       `json:"version"`
	State          RuleState `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
}

// RuleHistoryEntry is an append-only snapshot of one prior rule version.
type RuleHistoryEntry struct {
	RuleID         uuid.UUID `json:"rule_id"`
	Version        int       `json:"version"`
	Name           string    `json:"name"`
	ConditionsJSON []byte    `json:"conditions"`
	ArchivedAt     time.Time `json:"archived_at"`
}

// Attestation is the record of one rule evaluation, cryptographically
// bound to an agent identity and a sequence number.
type Attestation struct {
	AttestationID      uuid.UUID  `json:"attestation_id"`
	AgentID            uuid.UUID  `json:"agent_id"`
	RuleID             uuid.UUID  `json:"rule_id"`
	RuleVersion        int        `json:"rule_version"`
	ActionDataJSON     []byte     `json:"action_data"`
	EvaluationJSON     []byte     `json:"evaluation"`
	Met                bool       `json:"met"`
	Summary            string     `json:"summary"`
	Digest             string     `json:"digest"` // "0x" + 64 hex chars
	EncryptedSignature string     `json:"-"`       // never surfaced to callers
	Sequence           int64      `json:"sequence"`
	UnitCost           float64    `json:"unit_cost"`
	BatchID            *uuid.UUID `json:"batch_id,omitempty"`
	LedgerTxRef        *string    `json:"ledger_tx_ref,omitempty"`
	IssuedAt           time.Time  `json:"issued_at"`
}

// BatchStatus is the lifecycle state of a Merkle batch.
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusCommitted BatchStatus = "committed"
)

// Batch is a set of attestations aggregated under one Merkle root.
type Batch struct {
	BatchID     uuid.UUID   `json:"batch_id"`
	RootDigest  string      `json:"root_digest"` // "0x" + 64 hex chars
	LeafCount   int         `json:"leaf_count"`
	Status      BatchStatus `json:"status"`
	LedgerTxRef *string     `json:"ledger_tx_ref,omitempty"`
	CommittedAt *time.Time  `json:"committed_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}
