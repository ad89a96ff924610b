package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// AttestationRepository handles attestation persistence and retrieval.
type AttestationRepository struct {
	client *Client
}

// NewAttestationRepository creates a new attestation repository.
func NewAttestationRepository(client *Client) *AttestationRepository {
	return &AttestationRepository{client: client}
}

// NewAttestationInput is the input to persist a freshly-issued attestation.
// It is written only from inside the coordinator's atomic transaction.
type NewAttestationInput struct {
	AgentID            uuid.UUID
	RuleID             uuid.UUID
	RuleVersion        int
	ActionDataJSON     []byte
	EvaluationJSON     []byte
	Met                bool
	Summary            string
	Digest             string
	EncryptedSignature string
	Sequence           int64
	UnitCost           float64
}

// CreateAttestationWithinTx inserts a new attestation inside an
// already-open transaction. A digest collision surfaces as
// ErrDigestCollision; a sequence collision (should never happen given
// AgentRepository.IncrementSequenceWithinTx) surfaces as
// ErrSequenceConflict.
func (r *AttestationRepository) CreateAttestationWithinTx(ctx context.Context, tx *Tx, input *NewAttestationInput) (*Attestation, error) {
	a := &Attestation{
		AttestationID:      uuid.New(),
		AgentID:            input.AgentID,
		RuleID:             input.RuleID,
		RuleVersion:        input.RuleVersion,
		ActionDataJSON:     input.ActionDataJSON,
		EvaluationJSON:     input.EvaluationJSON,
		Met:                input.Met,
		Summary:            input.Summary,
		Digest:             input.Digest,
		EncryptedSignature: input.EncryptedSignature,
		Sequence:           input.Sequence,
		UnitCost:           input.UnitCost,
		IssuedAt:           time.Now(),
	}

	query := `
		INSERT INTO attestations (
			attestation_id, agent_id, rule_id, rule_version, action_data, evaluation,
			met, summary, digest, encrypted_signature, sequence, unit_cost, issued_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING attestation_id, issued_at`

	err := tx.Tx().QueryRowContext(ctx, query,
		a.AttestationID, a.AgentID, a.RuleID, a.RuleVersion, a.ActionDataJSON, a.EvaluationJSON,
		a.Met, a.Summary, a.Digest, a.EncryptedSignature, a.Sequence, a.UnitCost, a.IssuedAt,
	).Scan(&a.AttestationID, &a.IssuedAt)

	if err != nil {
		if isUniqueViolation(err, "attestations_digest_key") {
			return nil, ErrDigestCollision
		}
		if isUniqueViolation(err, "attestations_agent_id_sequence_key") {
			return nil, ErrSequenceConflict
		}
		return nil, fmt.Errorf("failed to create attestation: %w", err)
	}

	return a, nil
}

// GetAttestation retrieves an attestation by ID.
func (r *AttestationRepository) GetAttestation(ctx context.Context, attestationID uuid.UUID) (*Attestation, error) {
	query := `
		SELECT attestation_id, agent_id, rule_id, rule_version, action_data, evaluation,
			met, summary, digest, encrypted_signature, sequence, unit_cost,
			batch_id, ledger_tx_ref, issued_at
		FROM attestations WHERE attestation_id = $1`

	a := &Attestation{}
	err := r.client.QueryRowContext(ctx, query, attestationID).Scan(
		&a.AttestationID, &a.AgentID, &a.RuleID, &a.RuleVersion, &a.ActionDataJSON, &a.EvaluationJSON,
		&a.Met, &a.Summary, &a.Digest, &a.EncryptedSignature, &a.Sequence, &a.UnitCost,
		&a.BatchID, &a.LedgerTxRef, &a.IssuedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAttestationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attestation: %w", err)
	}
	return a, nil
}

// GetUnbatched returns up to limit unbatched attestations ordered by issue
// time ascending, ties broken by identifier, for the Merkle batcher.
func (r *AttestationRepository) GetUnbatched(ctx context.Context, limit int) ([]*Attestation, error) {
	query := `
		SELECT attestation_id, agent_id, rule_id, rule_version, action_data, evaluation,
			met, summary, digest, encrypted_signature, sequence, unit_cost,
			batch_id, ledger_tx_ref, issued_at
		FROM attestations
		WHERE batch_id IS NULL
		ORDER BY issued_at ASC, attestation_id ASC
		LIMIT $1`

	rows, err := r.client.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unbatched attestations: %w", err)
	}
	defer rows.Close()

	var out []*Attestation
	for rows.Next() {
		a := &Attestation{}
		if err := rows.Scan(
			&a.AttestationID, &a.AgentID, &a.RuleID, &a.RuleVersion, &a.ActionDataJSON, &a.EvaluationJSON,
			&a.Met, &a.Summary, &a.Digest, &a.EncryptedSignature, &a.Sequence, &a.UnitCost,
			&a.BatchID, &a.LedgerTxRef, &a.IssuedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attestation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkBatchedWithinTx assigns batchID and ledgerTxRef to every attestation
// in attestationIDs, inside an already-open transaction. Called only after
// the external ledger commit for the batch has succeeded.
func (r *AttestationRepository) MarkBatchedWithinTx(ctx context.Context, tx *Tx, attestationIDs []uuid.UUID, batchID uuid.UUID, ledgerTxRef string) error {
	if len(attestationIDs) == 0 {
		return nil
	}
	_, err := tx.Tx().ExecContext(ctx,
		`UPDATE attestations SET batch_id = $1, ledger_tx_ref = $2 WHERE attestation_id = ANY($3)`,
		batchID, ledgerTxRef, pq.Array(uuidStrings(attestationIDs)),
	)
	if err != nil {
		return fmt.Errorf("failed to mark attestations batched: %w", err)
	}
	return nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func isUniqueViolation(err error, constraint string) bool {
	return err != nil && strings.Contains(err.Error(), "unique") && strings.Contains(err.Error(), constraint)
}
