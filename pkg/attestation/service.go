package attestation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/attestproof/attestd/pkg/batch"
	"github.com/attestproof/attestd/pkg/canonical"
	"github.com/attestproof/attestd/pkg/crypto/envelope"
	"github.com/attestproof/attestd/pkg/crypto/signer"
	"github.com/attestproof/attestd/pkg/database"
	"github.com/attestproof/attestd/pkg/ratelimit"
	"github.com/attestproof/attestd/pkg/rule"
)

// Coordinator is the single-point contract of the system: every
// attestation flows through IssueAttestation (§4.5). It holds no mutable
// state of its own beyond its rate limiter registry; the signing and
// encryption keys are read-only after load and safe for concurrent use.
type Coordinator struct {
	repos       *database.Repositories
	signer      *signer.Signer
	cipher      *envelope.Cipher
	costs       *batch.CostTracker
	limiter     *ratelimit.Registry
	peerLimiter *ratelimit.Registry

	logger *log.Logger
}

// Config holds coordinator configuration.
type Config struct {
	Repos       *database.Repositories
	Signer      *signer.Signer
	Cipher      *envelope.Cipher
	Costs       *batch.CostTracker
	RateLimiter *ratelimit.Registry
	// PeerRateLimiter guards the coordinator entry point by the caller's
	// peer address, independent of the per-credential RateLimiter (§5):
	// a single compromised credential and a single noisy peer are
	// throttled separately.
	PeerRateLimiter *ratelimit.Registry
	Logger          *log.Logger
}

// NewCoordinator constructs a Coordinator. Signer and Cipher must already
// be loaded; a process with no valid signing key must never reach here
// (§4.3 — it may still serve read-only endpoints through other routes).
func NewCoordinator(cfg *Config) (*Coordinator, error) {
	if cfg == nil || cfg.Repos == nil {
		return nil, fmt.Errorf("attestation: repositories are required")
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("attestation: signer is required")
	}
	if cfg.Cipher == nil {
		return nil, fmt.Errorf("attestation: cipher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[Attestation] ", log.LstdFlags)
	}
	costs := cfg.Costs
	if costs == nil {
		costs = batch.NewCostTracker(nil)
	}
	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = ratelimit.NewRegistry(5, 10)
	}
	peerLimiter := cfg.PeerRateLimiter
	if peerLimiter == nil {
		peerLimiter = ratelimit.NewRegistry(5, 10)
	}

	return &Coordinator{
		repos:       cfg.Repos,
		signer:      cfg.Signer,
		cipher:      cfg.Cipher,
		costs:       costs,
		limiter:     limiter,
		peerLimiter: peerLimiter,
		logger:      logger,
	}, nil
}

// IssueRequest is the input to IssueAttestation.
type IssueRequest struct {
	AgentID       uuid.UUID
	PrincipalID   uuid.UUID
	PrincipalTier string
	RuleID        uuid.UUID
	ActionRecord  map[string]interface{}
	// PeerAddress is the caller's network address (e.g. r.RemoteAddr),
	// used only to key the per-peer-address rate limit bucket (§5). Empty
	// means no peer-address bucket is consulted.
	PeerAddress string
}

// IssueResult is the coordinator's output on success.
type IssueResult struct {
	AttestationID   uuid.UUID
	Digest          string
	Met             bool
	Evaluation      rule.Evaluation
	Summary         string
	UnitCost        float64
	IssuedAt        time.Time
	VerificationRef string
}

// canonicalPayloadVersion is the schema version recorded in every signed
// payload's "v" field (§4.2).
const canonicalPayloadVersion = 1

// canonicalPayload is the exact, ordered set of inputs the canonicalizer
// hashes (§4.2): version, agent id, rule id, conditions, action data,
// evaluation, met, nonce, unix-seconds timestamp. Field names and JSON tags
// are fixed by the wire format; any other key set or ordering produces a
// different digest for identical inputs.
type canonicalPayload struct {
	V          int                    `json:"v"`
	Agent      string                 `json:"agent"`
	Rule       string                 `json:"rule"`
	Conditions []rule.Condition       `json:"conditions"`
	Action     map[string]interface{} `json:"action"`
	Eval       rule.Evaluation        `json:"eval"`
	Met        bool                   `json:"met"`
	Nonce      int64                  `json:"nonce"`
	Ts         int64                  `json:"ts"`
}

// IssueAttestation evaluates req.RuleID against req.ActionRecord and, on
// success, signs and persists a new attestation bound to req.AgentID at
// its next sequence number. Every precondition failure aborts before any
// database write; every atomic-section failure rolls back the
// transaction in full (§4.5).
func (c *Coordinator) IssueAttestation(ctx context.Context, req *IssueRequest) (*IssueResult, error) {
	if !c.limiter.Allow(req.AgentID.String()) {
		return nil, ErrRateLimited
	}
	if req.PeerAddress != "" && !c.peerLimiter.Allow(req.PeerAddress) {
		return nil, ErrRateLimited
	}

	// Precondition 1: quota.
	available, err := c.repos.Principals.QuotaAvailable(ctx, req.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("attestation: failed to check quota: %w", err)
	}
	if !available {
		return nil, ErrQuotaExceeded
	}

	// Preconditions 2-5: rule lookup, ownership, state, re-validation.
	r, err := c.repos.Rules.GetRule(ctx, req.RuleID)
	if err != nil {
		if err == database.ErrRuleNotFound {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("attestation: failed to fetch rule: %w", err)
	}
	if r.AgentID != req.AgentID {
		return nil, ErrOwnershipMismatch
	}
	if r.State != database.RuleStateActive {
		return nil, ErrRuleArchived
	}
	var conditions []rule.Condition
	if err := json.Unmarshal(r.ConditionsJSON, &conditions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuleCorrupt, err)
	}
	if err := rule.Validate(conditions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuleCorrupt, err)
	}

	result, err := c.runAtomicSection(ctx, req, r, conditions)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// atomicSectionTimeout bounds the issuance transaction. Once the atomic
// section starts it runs detached from the inbound request's cancellation,
// so it ends only by commit, by error, or by this deadline (§5).
const atomicSectionTimeout = 10 * time.Second

func (c *Coordinator) runAtomicSection(ctx context.Context, req *IssueRequest, r *database.Rule, conditions []rule.Condition) (*IssueResult, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), atomicSectionTimeout)
	defer cancel()

	tx, err := c.repos.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("attestation: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Step 1: allocate the agent's next sequence number.
	n, err := c.repos.Agents.IncrementSequenceWithinTx(ctx, tx, req.AgentID)
	if err != nil {
		return nil, fmt.Errorf("attestation: failed to allocate sequence: %w", err)
	}

	// Step 2: evaluate.
	evaluation := rule.Evaluate(conditions, req.ActionRecord)

	// Step 3: canonicalize and hash.
	issuedAt := txTimestamp()
	payload := canonicalPayload{
		V:          canonicalPayloadVersion,
		Agent:      req.AgentID.String(),
		Rule:       req.RuleID.String(),
		Conditions: conditions,
		Action:     req.ActionRecord,
		Eval:       evaluation,
		Met:        evaluation.Met,
		Nonce:      n,
		Ts:         issuedAt.Unix(),
	}
	payloadMap, err := toCanonicalMap(payload)
	if err != nil {
		return nil, fmt.Errorf("attestation: failed to prepare canonical payload: %w", err)
	}
	canonicalBytes, err := canonical.Encode(payloadMap)
	if err != nil {
		return nil, fmt.Errorf("attestation: failed to canonicalize payload: %w", err)
	}
	digest := crypto.Keccak256(canonicalBytes)
	var digest32 [32]byte
	copy(digest32[:], digest)
	digestHex := "0x" + fmt.Sprintf("%x", digest)

	// Step 4: sign.
	signature, err := c.signer.Sign(digest32)
	if err != nil {
		return nil, fmt.Errorf("attestation: failed to sign digest: %w", err)
	}

	// Step 5: encrypt the signature.
	encryptedSig, err := c.cipher.Seal(signature)
	if err != nil {
		return nil, fmt.Errorf("attestation: failed to encrypt signature: %w", err)
	}

	actionJSON, err := json.Marshal(req.ActionRecord)
	if err != nil {
		return nil, fmt.Errorf("attestation: failed to marshal action record: %w", err)
	}
	evalJSON, err := json.Marshal(evaluation)
	if err != nil {
		return nil, fmt.Errorf("attestation: failed to marshal evaluation: %w", err)
	}
	unitCost := c.costs.UnitCostFor(req.PrincipalTier)

	// Step 6: persist.
	created, err := c.repos.Attestations.CreateAttestationWithinTx(ctx, tx, &database.NewAttestationInput{
		AgentID:            req.AgentID,
		RuleID:             req.RuleID,
		RuleVersion:        r.Version,
		ActionDataJSON:     actionJSON,
		EvaluationJSON:     evalJSON,
		Met:                evaluation.Met,
		Summary:            evaluation.Summary,
		Digest:             digestHex,
		EncryptedSignature: encryptedSig,
		Sequence:           n,
		UnitCost:           unitCost,
	})
	if err != nil {
		return nil, fmt.Errorf("attestation: failed to persist attestation: %w", err)
	}

	// Step 7: debit the principal's monthly quota.
	if err := c.repos.Principals.IncrementIssuedWithinTx(ctx, tx, req.PrincipalID); err != nil {
		if err == database.ErrQuotaExceeded {
			return nil, ErrQuotaExceeded
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("attestation: failed to commit attestation: %w", err)
	}

	return &IssueResult{
		AttestationID:   created.AttestationID,
		Digest:          digestHex,
		Met:             evaluation.Met,
		Evaluation:      evaluation,
		Summary:         evaluation.Summary,
		UnitCost:        unitCost,
		IssuedAt:        created.IssuedAt,
		VerificationRef: "/verify/" + created.AttestationID.String(),
	}, nil
}

// GetPublicAttestation returns the public-safe view of an attestation
// (§4.6): never the encrypted or plaintext signature.
func (c *Coordinator) GetPublicAttestation(ctx context.Context, attestationID uuid.UUID) (*database.Attestation, error) {
	a, err := c.repos.Attestations.GetAttestation(ctx, attestationID)
	if err != nil {
		if err == database.ErrAttestationNotFound {
			return nil, ErrAttestationNotFound
		}
		return nil, fmt.Errorf("attestation: failed to fetch attestation: %w", err)
	}
	return a, nil
}

// toCanonicalMap round-trips payload through encoding/json to get a
// map[string]interface{} with JSON-native scalar types, which is what
// the canonical encoder understands.
func toCanonicalMap(payload canonicalPayload) (map[string]interface{}, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func txTimestamp() time.Time {
	return time.Now().UTC()
}
