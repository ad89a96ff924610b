package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"testing"

	"github.com/attestproof/attestd/pkg/config"
	"github.com/attestproof/attestd/pkg/database"
	"github.com/attestproof/attestd/pkg/ledger"
)

// testSchedulerDBURL holds the connection string from
// ATTESTD_TEST_DATABASE_URL when set; closeBatch needs a real schema (the
// advisory lock, the attestations/batches tables) to exercise against, so
// every test below skips entirely otherwise.
var testSchedulerDBURL string

func TestMain(m *testing.M) {
	testSchedulerDBURL = os.Getenv("ATTESTD_TEST_DATABASE_URL")
	if testSchedulerDBURL == "" {
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func newTestScheduler(t *testing.T, cfg *SchedulerConfig) (*Scheduler, *database.Repositories, *database.Client) {
	t.Helper()
	if testSchedulerDBURL == "" {
		t.Skip("ATTESTD_TEST_DATABASE_URL not configured")
	}

	client, err := database.NewClient(&config.Config{DatabaseURL: testSchedulerDBURL})
	if err != nil {
		t.Fatalf("database.NewClient() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	repos := client.Repositories()

	// An unconfigured ledger client (no RPC URL) exercises the "ledger not
	// configured" branch of closeBatch without needing a live chain.
	ledgerClient, err := ledger.New(ledger.Config{})
	if err != nil {
		t.Fatalf("ledger.New() error = %v", err)
	}

	scheduler, err := NewScheduler(repos, ledgerClient, cfg)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	return scheduler, repos, client
}

func seedUnbatchedAttestation(t *testing.T, repos *database.Repositories, client *database.Client, seed int) *database.Attestation {
	t.Helper()
	ctx := context.Background()

	principal, err := repos.Principals.CreatePrincipal(ctx, &database.NewPrincipalInput{Tier: "standard", MonthlyQuota: 1000})
	if err != nil {
		t.Fatalf("CreatePrincipal() error = %v", err)
	}
	t.Cleanup(func() { client.ExecContext(ctx, "DELETE FROM principals WHERE principal_id = $1", principal.PrincipalID) })

	agent, err := repos.Agents.CreateAgent(ctx, principal.PrincipalID)
	if err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	t.Cleanup(func() { client.ExecContext(ctx, "DELETE FROM agents WHERE agent_id = $1", agent.AgentID) })

	r, err := repos.Rules.CreateRule(ctx, &database.NewRuleInput{
		AgentID:        agent.AgentID,
		Name:           "always-met",
		ConditionsJSON: []byte(`[{"field":"x","operator":"=","value":1}]`),
	})
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}
	t.Cleanup(func() {
		client.ExecContext(ctx, "DELETE FROM rule_history WHERE rule_id = $1", r.RuleID)
		client.ExecContext(ctx, "DELETE FROM rules WHERE rule_id = $1", r.RuleID)
	})

	sum := sha256.Sum256([]byte(fmt.Sprintf("scheduler-test-leaf-%d", seed)))
	digest := "0x" + hex.EncodeToString(sum[:])

	tx, err := repos.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx() error = %v", err)
	}
	a, err := repos.Attestations.CreateAttestationWithinTx(ctx, tx, &database.NewAttestationInput{
		AgentID:            agent.AgentID,
		RuleID:             r.RuleID,
		RuleVersion:        r.Version,
		ActionDataJSON:     []byte(`{"x":1}`),
		EvaluationJSON:     []byte(`{"results":[],"met":true,"summary":"ok"}`),
		Met:                true,
		Summary:            "ok",
		Digest:             digest,
		EncryptedSignature: "00:00:00",
		Sequence:           1,
		UnitCost:           0.01,
	})
	if err != nil {
		tx.Rollback()
		t.Fatalf("CreateAttestationWithinTx() error = %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	t.Cleanup(func() { client.ExecContext(ctx, "DELETE FROM attestations WHERE attestation_id = $1", a.AttestationID) })

	return a
}

// TestCloseBatchWithoutLedgerLeavesAttestationsUnbatched proves an
// unconfigured ledger client aborts closeBatch before any pending batch row
// is created, leaving every candidate attestation unbatched for the next
// cycle (§4.4's no-partial-progress guarantee).
func TestCloseBatchWithoutLedgerLeavesAttestationsUnbatched(t *testing.T) {
	scheduler, repos, client := newTestScheduler(t, &SchedulerConfig{MaxLeaves: 16, MinLeaves: 1})
	a := seedUnbatchedAttestation(t, repos, client, 1)

	_, err := scheduler.closeBatch(context.Background())
	if err == nil {
		t.Fatal("closeBatch() error = nil, want an error for an unconfigured ledger")
	}

	refreshed, err := repos.Attestations.GetAttestation(context.Background(), a.AttestationID)
	if err != nil {
		t.Fatalf("GetAttestation() error = %v", err)
	}
	if refreshed.BatchID != nil {
		t.Errorf("BatchID = %v, want nil (attestation must remain unbatched after a ledger-less cycle)", refreshed.BatchID)
	}
}

// TestCloseBatchEmptyReturnsErrBatchEmpty proves a cycle below MinLeaves
// aborts without acquiring any lasting state.
func TestCloseBatchEmptyReturnsErrBatchEmpty(t *testing.T) {
	scheduler, _, _ := newTestScheduler(t, &SchedulerConfig{MaxLeaves: 16, MinLeaves: 1000000})

	_, err := scheduler.closeBatch(context.Background())
	if err != ErrBatchEmpty {
		t.Fatalf("closeBatch() error = %v, want ErrBatchEmpty", err)
	}
}

// TestCloseBatchHeldLockIsSkipped proves a second scheduler instance sharing
// the same database observes ErrBatchLockHeld rather than racing the first
// instance's cycle, the cross-instance half of the advisory-lock exclusion
// (§5).
func TestCloseBatchHeldLockIsSkipped(t *testing.T) {
	if testSchedulerDBURL == "" {
		t.Skip("ATTESTD_TEST_DATABASE_URL not configured")
	}

	client, err := database.NewClient(&config.Config{DatabaseURL: testSchedulerDBURL})
	if err != nil {
		t.Fatalf("database.NewClient() error = %v", err)
	}
	defer client.Close()
	repos := client.Repositories()
	ctx := context.Background()

	acquired, err := repos.Batches.TryAcquireBatchLock(ctx)
	if err != nil {
		t.Fatalf("TryAcquireBatchLock() error = %v", err)
	}
	if !acquired {
		t.Fatal("TryAcquireBatchLock() = false, want true on first acquisition")
	}
	defer repos.Batches.ReleaseBatchLock(ctx)

	scheduler, _, _ := newTestScheduler(t, &SchedulerConfig{MaxLeaves: 16, MinLeaves: 1})
	_, err = scheduler.closeBatch(ctx)
	if err != ErrBatchLockHeld {
		t.Fatalf("closeBatch() error = %v, want ErrBatchLockHeld while another holder has the lock", err)
	}
}
