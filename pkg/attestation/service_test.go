package attestation

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/attestproof/attestd/pkg/config"
	"github.com/attestproof/attestd/pkg/crypto/envelope"
	"github.com/attestproof/attestd/pkg/crypto/signer"
	"github.com/attestproof/attestd/pkg/database"
	"github.com/attestproof/attestd/pkg/rule"
)

// testDatabaseURL holds the connection string from ATTESTD_TEST_DATABASE_URL
// when set; every test below skips entirely otherwise, since the atomic
// section exercised here needs a real schema and real transactions to prove
// anything about rollback behavior.
var testDatabaseURL string

func TestMain(m *testing.M) {
	testDatabaseURL = os.Getenv("ATTESTD_TEST_DATABASE_URL")
	if testDatabaseURL == "" {
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// testSigningKey and testEncryptionKey are fixed, non-secret test material;
// they back no real funds or stored data.
const (
	testSigningKey    = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362f3"
	testEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *database.Repositories, *database.Client) {
	t.Helper()
	if testDatabaseURL == "" {
		t.Skip("ATTESTD_TEST_DATABASE_URL not configured")
	}

	client, err := database.NewClient(&config.Config{DatabaseURL: testDatabaseURL})
	if err != nil {
		t.Fatalf("database.NewClient() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	repos := client.Repositories()

	sig, err := signer.New(testSigningKey)
	if err != nil {
		t.Fatalf("signer.New() error = %v", err)
	}
	cipher, err := envelope.New(testEncryptionKey)
	if err != nil {
		t.Fatalf("envelope.New() error = %v", err)
	}

	coordinator, err := NewCoordinator(&Config{
		Repos:  repos,
		Signer: sig,
		Cipher: cipher,
	})
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	return coordinator, repos, client
}

func seedPrincipalAgentRule(t *testing.T, repos *database.Repositories, client *database.Client, quota int64) (*database.Principal, *database.Agent, *database.Rule) {
	t.Helper()
	ctx := context.Background()

	principal, err := repos.Principals.CreatePrincipal(ctx, &database.NewPrincipalInput{
		Tier:         "standard",
		MonthlyQuota: quota,
	})
	if err != nil {
		t.Fatalf("CreatePrincipal() error = %v", err)
	}
	t.Cleanup(func() {
		client.ExecContext(ctx, "DELETE FROM principals WHERE principal_id = $1", principal.PrincipalID)
	})

	agent, err := repos.Agents.CreateAgent(ctx, principal.PrincipalID)
	if err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	t.Cleanup(func() {
		client.ExecContext(ctx, "DELETE FROM agents WHERE agent_id = $1", agent.AgentID)
	})

	conditions := []rule.Condition{
		{Field: "amount", Operator: rule.OpGreaterEq, Value: float64(100)},
	}
	conditionsJSON, err := json.Marshal(conditions)
	if err != nil {
		t.Fatalf("failed to marshal conditions: %v", err)
	}
	r, err := repos.Rules.CreateRule(ctx, &database.NewRuleInput{
		AgentID:        agent.AgentID,
		Name:           "amount-over-100",
		ConditionsJSON: conditionsJSON,
	})
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}
	t.Cleanup(func() {
		client.ExecContext(ctx, "DELETE FROM rule_history WHERE rule_id = $1", r.RuleID)
		client.ExecContext(ctx, "DELETE FROM rules WHERE rule_id = $1", r.RuleID)
	})

	return principal, agent, r
}

func TestIssueAttestationAllocatesSequenceAndPersists(t *testing.T) {
	coordinator, repos, client := newTestCoordinator(t)
	principal, agent, r := seedPrincipalAgentRule(t, repos, client, 10)
	ctx := context.Background()

	result, err := coordinator.IssueAttestation(ctx, &IssueRequest{
		AgentID:       agent.AgentID,
		PrincipalID:   principal.PrincipalID,
		PrincipalTier: principal.Tier,
		RuleID:        r.RuleID,
		ActionRecord:  map[string]interface{}{"amount": float64(150)},
	})
	if err != nil {
		t.Fatalf("IssueAttestation() error = %v", err)
	}
	if !result.Met {
		t.Errorf("Met = false, want true for amount=150 >= 100")
	}

	refreshed, err := repos.Agents.GetAgent(ctx, agent.AgentID)
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if refreshed.Sequence != 1 {
		t.Errorf("agent sequence = %d, want 1 after first issuance", refreshed.Sequence)
	}

	refreshedPrincipal, err := repos.Principals.GetPrincipal(ctx, principal.PrincipalID)
	if err != nil {
		t.Fatalf("GetPrincipal() error = %v", err)
	}
	if refreshedPrincipal.MonthlyIssued != 1 {
		t.Errorf("principal monthly_issued = %d, want 1", refreshedPrincipal.MonthlyIssued)
	}
}

// TestIssueAttestationQuotaExhaustedRollsBackSequence proves the
// coordinator's upfront quota precondition (§4.5 precondition 1) rejects an
// exhausted principal before the atomic section opens at all: the agent's
// sequence counter must never advance for a request that never reaches
// IncrementSequenceWithinTx.
func TestIssueAttestationQuotaExhaustedRollsBackSequence(t *testing.T) {
	coordinator, repos, client := newTestCoordinator(t)
	principal, agent, r := seedPrincipalAgentRule(t, repos, client, 0)
	ctx := context.Background()

	_, err := coordinator.IssueAttestation(ctx, &IssueRequest{
		AgentID:       agent.AgentID,
		PrincipalID:   principal.PrincipalID,
		PrincipalTier: principal.Tier,
		RuleID:        r.RuleID,
		ActionRecord:  map[string]interface{}{"amount": float64(150)},
	})
	if err != ErrQuotaExceeded {
		t.Fatalf("IssueAttestation() error = %v, want ErrQuotaExceeded", err)
	}

	refreshed, err := repos.Agents.GetAgent(ctx, agent.AgentID)
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if refreshed.Sequence != 0 {
		t.Errorf("agent sequence = %d, want 0 (quota check rejects before the atomic section opens)", refreshed.Sequence)
	}
}

func TestIssueAttestationRuleArchivedIsRejected(t *testing.T) {
	coordinator, repos, client := newTestCoordinator(t)
	principal, agent, r := seedPrincipalAgentRule(t, repos, client, 10)
	ctx := context.Background()

	if err := repos.Rules.ArchiveRule(ctx, r.RuleID); err != nil {
		t.Fatalf("ArchiveRule() error = %v", err)
	}

	_, err := coordinator.IssueAttestation(ctx, &IssueRequest{
		AgentID:       agent.AgentID,
		PrincipalID:   principal.PrincipalID,
		PrincipalTier: principal.Tier,
		RuleID:        r.RuleID,
		ActionRecord:  map[string]interface{}{"amount": float64(150)},
	})
	if err != ErrRuleArchived {
		t.Fatalf("IssueAttestation() error = %v, want ErrRuleArchived", err)
	}

	refreshed, err := repos.Agents.GetAgent(ctx, agent.AgentID)
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if refreshed.Sequence != 0 {
		t.Errorf("agent sequence = %d, want 0 (archived rule rejected before the atomic section opens)", refreshed.Sequence)
	}
}

func TestIssueAttestationOwnershipMismatchIsRejected(t *testing.T) {
	coordinator, repos, client := newTestCoordinator(t)
	principal, _, r := seedPrincipalAgentRule(t, repos, client, 10)
	_, otherAgent, _ := seedPrincipalAgentRule(t, repos, client, 10)
	ctx := context.Background()

	_, err := coordinator.IssueAttestation(ctx, &IssueRequest{
		AgentID:       otherAgent.AgentID,
		PrincipalID:   principal.PrincipalID,
		PrincipalTier: principal.Tier,
		RuleID:        r.RuleID,
		ActionRecord:  map[string]interface{}{"amount": float64(150)},
	})
	if err != ErrOwnershipMismatch {
		t.Fatalf("IssueAttestation() error = %v, want ErrOwnershipMismatch", err)
	}
}
