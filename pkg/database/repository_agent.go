package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AgentRepository handles agent identity and sequence counter operations.
type AgentRepository struct {
	client *Client
}

// NewAgentRepository creates a new agent repository.
func NewAgentRepository(client *Client) *AgentRepository {
	return &AgentRepository{client: client}
}

// CreateAgent creates a new agent owned by principalID.
func (r *AgentRepository) CreateAgent(ctx context.Context, principalID uuid.UUID) (*Agent, error) {
	a := &Agent{
		AgentID:     uuid.New(),
		PrincipalID: principalID,
		State:       AgentStateActive,
		Sequence:    0,
		CreatedAt:   time.Now(),
	}

	query := `
		INSERT INTO agents (agent_id, principal_id, state, sequence, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING agent_id, created_at`

	err := r.client.QueryRowContext(ctx, query,
		a.AgentID, a.PrincipalID, a.State, a.Sequence, a.CreatedAt,
	).Scan(&a.AgentID, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}
	return a, nil
}

// GetAgent retrieves an agent by ID.
func (r *AgentRepository) GetAgent(ctx context.Context, agentID uuid.UUID) (*Agent, error) {
	query := `
		SELECT agent_id, principal_id, state, sequence, created_at
		FROM agents WHERE agent_id = $1`

	a := &Agent{}
	err := r.client.QueryRowContext(ctx, query, agentID).Scan(
		&a.AgentID, &a.PrincipalID, &a.State, &a.Sequence, &a.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return a, nil
}

// IncrementSequenceWithinTx increments an agent's sequence counter inside
// an already-open transaction and returns the new value. The row lock
// acquired by the UPDATE makes concurrent increments for the same agent
// serialize, guaranteeing contiguous, gap-free sequence numbers.
func (r *AgentRepository) IncrementSequenceWithinTx(ctx context.Context, tx *Tx, agentID uuid.UUID) (int64, error) {
	var next int64
	err := tx.Tx().QueryRowContext(ctx,
		`UPDATE agents SET sequence = sequence + 1 WHERE agent_id = $1 RETURNING sequence`,
		agentID,
	).Scan(&next)
	if err == sql.ErrNoRows {
		return 0, ErrAgentNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment agent sequence: %w", err)
	}
	return next, nil
}
