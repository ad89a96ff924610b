package database

import "context"

// Repositories bundles every aggregate repository over a shared client, for
// injection into the attestation coordinator, batch scheduler, and HTTP
// handlers as a single dependency.
type Repositories struct {
	client *Client

	Principals   *PrincipalRepository
	Agents       *AgentRepository
	Rules        *RuleRepository
	Attestations *AttestationRepository
	Batches      *BatchRepository
}

// NewRepositories constructs every repository over client.
func NewRepositories(client *Client) *Repositories {
	return &Repositories{
		client:       client,
		Principals:   NewPrincipalRepository(client),
		Agents:       NewAgentRepository(client),
		Rules:        NewRuleRepository(client),
		Attestations: NewAttestationRepository(client),
		Batches:      NewBatchRepository(client),
	}
}

// BeginTx starts a transaction shared across repositories, for callers
// (the attestation coordinator, the batch scheduler) that need one atomic
// section spanning several aggregates.
func (r *Repositories) BeginTx(ctx context.Context) (*Tx, error) {
	return r.client.BeginTx(ctx)
}
