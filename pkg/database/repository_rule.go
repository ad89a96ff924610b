package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RuleRepository handles rule registration and versioned updates.
type RuleRepository struct {
	client *Client
}

// NewRuleRepository creates a new rule repository.
func NewRuleRepository(client *Client) *RuleRepository {
	return &RuleRepository{client: client}
}

// NewRuleInput is the input to register a rule.
type NewRuleInput struct {
	AgentID        uuid.UUID
	Name           string
	ConditionsJSON []byte
}

// CreateRule registers a new rule at version 1.
func (r *RuleRepository) CreateRule(ctx context.Context, input *NewRuleInput) (*Rule, error) {
	rule := &Rule{
		RuleID:         uuid.New(),
		AgentID:        input.AgentID,
		Name:           input.Name,
		ConditionsJSON: input.ConditionsJSON,
		Version:        1,
		State:          RuleStateActive,
		CreatedAt:      time.Now(),
	}

	query := `
		INSERT INTO rules (rule_id, agent_id, name, conditions, version, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING rule_id, created_at`

	err := r.client.QueryRowContext(ctx, query,
		rule.RuleID, rule.AgentID, rule.Name, rule.ConditionsJSON, rule.Version, rule.State, rule.CreatedAt,
	).Scan(&rule.RuleID, &rule.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	return rule, nil
}

// GetRule retrieves a rule by ID.
func (r *RuleRepository) GetRule(ctx context.Context, ruleID uuid.UUID) (*Rule, error) {
	query := `
		SELECT rule_id, agent_id, name, conditions, version, state, created_at
		FROM rules WHERE rule_id = $1`

	rule := &Rule{}
	err := r.client.QueryRowContext(ctx, query, ruleID).Scan(
		&rule.RuleID, &rule.AgentID, &rule.Name, &rule.ConditionsJSON,
		&rule.Version, &rule.State, &rule.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// UpdateRule creates a new rule version: the prior version is archived into
// rule_history, and the rule row is rewritten in place with an incremented
// version. The conditions of a version never change without the version
// number advancing and the old version being kept in rule_history.
func (r *RuleRepository) UpdateRule(ctx context.Context, ruleID uuid.UUID, name string, conditionsJSON []byte) (*Rule, error) {
	current, err := r.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	tx, err := r.client.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Tx().ExecContext(ctx,
		`INSERT INTO rule_history (rule_id, version, name, conditions, archived_at) VALUES ($1, $2, $3, $4, $5)`,
		current.RuleID, current.Version, current.Name, current.ConditionsJSON, time.Now(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to archive rule version: %w", err)
	}

	nextVersion := current.Version + 1
	_, err = tx.Tx().ExecContext(ctx,
		`UPDATE rules SET name = $1, conditions = $2, version = $3 WHERE rule_id = $4`,
		name, conditionsJSON, nextVersion, ruleID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit rule update: %w", err)
	}

	current.Name = name
	current.ConditionsJSON = conditionsJSON
	current.Version = nextVersion
	return current, nil
}

// ArchiveRule marks a rule archived. Rules are never hard-deleted while
// attestations reference them.
func (r *RuleRepository) ArchiveRule(ctx context.Context, ruleID uuid.UUID) error {
	result, err := r.client.ExecContext(ctx,
		`UPDATE rules SET state = $1 WHERE rule_id = $2`, RuleStateArchived, ruleID)
	if err != nil {
		return fmt.Errorf("failed to archive rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check archive result: %w", err)
	}
	if affected == 0 {
		return ErrRuleNotFound
	}
	return nil
}
