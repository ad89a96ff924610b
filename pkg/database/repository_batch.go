package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BatchRepository handles Merkle batch persistence.
type BatchRepository struct {
	client *Client
}

// NewBatchRepository creates a new batch repository.
func NewBatchRepository(client *Client) *BatchRepository {
	return &BatchRepository{client: client}
}

// CreatePendingBatch records a batch row before the external ledger commit
// is attempted, so a crash between insert and commit leaves an auditable
// pending row rather than silently losing the attempt.
func (r *BatchRepository) CreatePendingBatch(ctx context.Context, rootDigest string, leafCount int) (*Batch, error) {
	b := &Batch{
		BatchID:    uuid.New(),
		RootDigest: rootDigest,
		LeafCount:  leafCount,
		Status:     BatchStatusPending,
		CreatedAt:  time.Now(),
	}

	query := `
		INSERT INTO batches (batch_id, root_digest, leaf_count, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING batch_id, created_at`

	err := r.client.QueryRowContext(ctx, query,
		b.BatchID, b.RootDigest, b.LeafCount, b.Status, b.CreatedAt,
	).Scan(&b.BatchID, &b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create pending batch: %w", err)
	}
	return b, nil
}

// MarkCommittedWithinTx marks a batch committed with its ledger transaction
// reference, inside the same transaction that marks its attestations
// batched, so the two updates are atomic.
func (r *BatchRepository) MarkCommittedWithinTx(ctx context.Context, tx *Tx, batchID uuid.UUID, ledgerTxRef string) error {
	_, err := tx.Tx().ExecContext(ctx,
		`UPDATE batches SET status = $1, ledger_tx_ref = $2, committed_at = $3 WHERE batch_id = $4`,
		BatchStatusCommitted, ledgerTxRef, time.Now(), batchID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark batch committed: %w", err)
	}
	return nil
}

// DeletePendingBatch removes a batch row whose external commit failed,
// so the candidate attestations are retried in the next cycle with no
// dangling batch record.
func (r *BatchRepository) DeletePendingBatch(ctx context.Context, batchID uuid.UUID) error {
	_, err := r.client.ExecContext(ctx, `DELETE FROM batches WHERE batch_id = $1 AND status = $2`, batchID, BatchStatusPending)
	if err != nil {
		return fmt.Errorf("failed to delete pending batch: %w", err)
	}
	return nil
}

// GetBatch retrieves a batch by ID.
func (r *BatchRepository) GetBatch(ctx context.Context, batchID uuid.UUID) (*Batch, error) {
	query := `
		SELECT batch_id, root_digest, leaf_count, status, ledger_tx_ref, committed_at, created_at
		FROM batches WHERE batch_id = $1`

	b := &Batch{}
	err := r.client.QueryRowContext(ctx, query, batchID).Scan(
		&b.BatchID, &b.RootDigest, &b.LeafCount, &b.Status, &b.LedgerTxRef, &b.CommittedAt, &b.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return b, nil
}

// BeginTx starts a transaction shared by the batch and attestation
// repositories, for callers coordinating a single commit across both.
func (r *BatchRepository) BeginTx(ctx context.Context) (*Tx, error) {
	return r.client.BeginTx(ctx)
}

// batchSchedulerLockKey is the fixed advisory-lock key guarding the batch
// cycle (§5): every scheduler instance in a deployment contends for the
// same key, so at most one runs a cycle at a time regardless of process
// count.
const batchSchedulerLockKey = int64(0x4243485f4c434b) // "BCH_LCK"

// TryAcquireBatchLock attempts to take the cross-instance advisory lock
// guarding batch cycles. It returns false, nil (not an error) when another
// instance already holds it — the caller should simply skip this cycle.
// The lock is session-scoped: it is released by ReleaseBatchLock or when
// the holding connection closes.
func (r *BatchRepository) TryAcquireBatchLock(ctx context.Context) (bool, error) {
	var acquired bool
	err := r.client.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, batchSchedulerLockKey).Scan(&acquired)
	if err != nil {
		return false, fmt.Errorf("failed to acquire batch advisory lock: %w", err)
	}
	return acquired, nil
}

// ReleaseBatchLock releases the lock taken by TryAcquireBatchLock.
func (r *BatchRepository) ReleaseBatchLock(ctx context.Context) error {
	var released bool
	err := r.client.QueryRowContext(ctx, `SELECT pg_advisory_unlock($1)`, batchSchedulerLockKey).Scan(&released)
	if err != nil {
		return fmt.Errorf("failed to release batch advisory lock: %w", err)
	}
	return nil
}
