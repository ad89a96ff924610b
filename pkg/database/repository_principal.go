package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PrincipalRepository handles principal account and quota operations.
type PrincipalRepository struct {
	client *Client
}

// NewPrincipalRepository creates a new principal repository.
func NewPrincipalRepository(client *Client) *PrincipalRepository {
	return &PrincipalRepository{client: client}
}

// NewPrincipalInput is the input to create a principal.
type NewPrincipalInput struct {
	Tier         string
	MonthlyQuota int64
}

// CreatePrincipal creates a new principal account.
func (r *PrincipalRepository) CreatePrincipal(ctx context.Context, input *NewPrincipalInput) (*Principal, error) {
	p := &Principal{
		PrincipalID:      uuid.New(),
		Tier:             input.Tier,
		MonthlyQuota:     input.MonthlyQuota,
		QuotaPeriodStart: time.Now(),
		State:            PrincipalStateActive,
		CreatedAt:        time.Now(),
	}

	query := `
		INSERT INTO principals (principal_id, tier, monthly_quota, monthly_issued, quota_period_start, state, created_at)
		VALUES ($1, $2, $3, 0, $4, $5, $6)
		RETURNING principal_id, created_at`

	err := r.client.QueryRowContext(ctx, query,
		p.PrincipalID, p.Tier, p.MonthlyQuota, p.QuotaPeriodStart, p.State, p.CreatedAt,
	).Scan(&p.PrincipalID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create principal: %w", err)
	}
	return p, nil
}

// GetPrincipal retrieves a principal by ID.
func (r *PrincipalRepository) GetPrincipal(ctx context.Context, principalID uuid.UUID) (*Principal, error) {
	query := `
		SELECT principal_id, tier, monthly_quota, monthly_issued, quota_period_start, state, created_at
		FROM principals WHERE principal_id = $1`

	p := &Principal{}
	err := r.client.QueryRowContext(ctx, query, principalID).Scan(
		&p.PrincipalID, &p.Tier, &p.MonthlyQuota, &p.MonthlyIssued,
		&p.QuotaPeriodStart, &p.State, &p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	return p, nil
}

// QuotaAvailable reports whether a principal has remaining issuance quota
// for the current period, without consuming it. Used for the coordinator's
// precondition check before the atomic section begins.
func (r *PrincipalRepository) QuotaAvailable(ctx context.Context, principalID uuid.UUID) (bool, error) {
	p, err := r.GetPrincipal(ctx, principalID)
	if err != nil {
		return false, err
	}
	return p.MonthlyIssued < p.MonthlyQuota, nil
}

// IncrementIssuedWithinTx increments a principal's monthly issued counter
// inside an already-open transaction, re-checking the quota under a
// row lock so concurrent issuance cannot oversubscribe it. Returns
// ErrQuotaExceeded if the principal has no quota remaining.
func (r *PrincipalRepository) IncrementIssuedWithinTx(ctx context.Context, tx *Tx, principalID uuid.UUID) error {
	var quota, issued int64
	err := tx.Tx().QueryRowContext(ctx,
		`SELECT monthly_quota, monthly_issued FROM principals WHERE principal_id = $1 FOR UPDATE`,
		principalID,
	).Scan(&quota, &issued)
	if err == sql.ErrNoRows {
		return ErrPrincipalNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock principal row: %w", err)
	}
	if issued >= quota {
		return ErrQuotaExceeded
	}

	_, err = tx.Tx().ExecContext(ctx,
		`UPDATE principals SET monthly_issued = monthly_issued + 1 WHERE principal_id = $1`,
		principalID,
	)
	if err != nil {
		return fmt.Errorf("failed to increment issued counter: %w", err)
	}
	return nil
}
