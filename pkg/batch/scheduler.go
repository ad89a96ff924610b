// Batch scheduler: runs a background timer that periodically collects
// unbatched attestations, builds a Merkle tree over their digests, and
// commits the root to the external ledger (§4.4). A failed external
// commit leaves every attestation unbatched for the next cycle; no
// partial progress is recorded.

package batch

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/attestproof/attestd/pkg/database"
	"github.com/attestproof/attestd/pkg/ledger"
	"github.com/attestproof/attestd/pkg/merkle"
)

// SchedulerState represents the current state of the scheduler.
type SchedulerState string

const (
	SchedulerStateStopped SchedulerState = "stopped"
	SchedulerStateRunning SchedulerState = "running"
	SchedulerStatePaused  SchedulerState = "paused"
)

// MetricsObserver receives batch-cycle and ledger-call observations,
// satisfied structurally by the server package's Metrics type without
// this package importing it.
type MetricsObserver interface {
	ObserveBatch(leafCount int, start time.Time)
	ObserveLedgerCall(operation string, start time.Time)
}

// ClosedBatchResult describes the outcome of one completed batching cycle.
type ClosedBatchResult struct {
	BatchID     uuid.UUID
	RootDigest  string
	LeafCount   int
	LedgerTxRef string
}

// BatchReadyCallback is invoked after a batch is committed to the ledger
// and marked batched in storage.
type BatchReadyCallback func(ctx context.Context, result *ClosedBatchResult)

// Scheduler manages batching cadence and drives one cycle at a time within
// a process (ticks run their cycles one after another on the scheduler's
// single background goroutine; mu guards only the scheduler's own
// fields), and across every instance of
// this service sharing a database (a Postgres advisory lock taken at the
// start of each cycle in closeBatch) — together these satisfy the
// advisory single-batcher exclusion the concurrency model requires.
type Scheduler struct {
	mu sync.RWMutex

	repos   *database.Repositories
	ledger  *ledger.Client
	costs   *CostTracker
	metrics MetricsObserver
	callback BatchReadyCallback

	interval   time.Duration // batch cadence (on-cadence trigger)
	maxLeaves  int
	minLeaves  int
	cycleDeadline time.Duration

	state  SchedulerState
	stopCh chan struct{}
	doneCh chan struct{}

	logger *log.Logger
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	Interval      time.Duration
	MaxLeaves     int
	MinLeaves     int
	CycleDeadline time.Duration
	Callback      BatchReadyCallback
	Costs         *CostTracker
	Metrics       MetricsObserver
	Logger        *log.Logger
}

// DefaultSchedulerConfig returns default configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Interval:      15 * time.Minute,
		MaxLeaves:     merkle.MaxLeaves,
		MinLeaves:     1,
		CycleDeadline: 30 * time.Second,
		Logger:        log.New(log.Writer(), "[BatchScheduler] ", log.LstdFlags),
	}
}

// NewScheduler creates a new batch scheduler.
func NewScheduler(repos *database.Repositories, ledgerClient *ledger.Client, cfg *SchedulerConfig) (*Scheduler, error) {
	if repos == nil {
		return nil, ErrNilRepositories
	}
	if cfg == nil {
		cfg = DefaultSchedulerConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[BatchScheduler] ", log.LstdFlags)
	}
	if cfg.MaxLeaves <= 0 || cfg.MaxLeaves > merkle.MaxLeaves {
		cfg.MaxLeaves = merkle.MaxLeaves
	}
	if cfg.MinLeaves <= 0 {
		cfg.MinLeaves = 1
	}
	if cfg.Costs == nil {
		cfg.Costs = NewCostTracker(nil)
	}

	return &Scheduler{
		repos:         repos,
		ledger:        ledgerClient,
		costs:         cfg.Costs,
		metrics:       cfg.Metrics,
		callback:      cfg.Callback,
		interval:      cfg.Interval,
		maxLeaves:     cfg.MaxLeaves,
		minLeaves:     cfg.MinLeaves,
		cycleDeadline: cfg.CycleDeadline,
		state:         SchedulerStateStopped,
		logger:        cfg.Logger,
	}, nil
}

// Start begins the scheduler's background loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SchedulerStateRunning {
		return ErrSchedulerRunning
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.state = SchedulerStateRunning

	go s.run(ctx)

	s.logger.Printf("scheduler started (interval=%s, max_leaves=%d, min_leaves=%d)", s.interval, s.maxLeaves, s.minLeaves)
	return nil
}

// Stop stops the scheduler and waits for the current cycle, if any, to
// finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.state != SchedulerStateRunning && s.state != SchedulerStatePaused {
		s.mu.Unlock()
		return nil
	}
	close(s.stopCh)
	s.state = SchedulerStateStopped
	s.mu.Unlock()

	<-s.doneCh
	s.logger.Println("scheduler stopped")
	return nil
}

// Pause temporarily suspends cycle execution without tearing down the
// background goroutine.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SchedulerStateRunning {
		s.state = SchedulerStatePaused
		s.logger.Println("scheduler paused")
	}
}

// Resume resumes a paused scheduler.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SchedulerStatePaused {
		s.state = SchedulerStateRunning
		s.logger.Println("scheduler resumed")
	}
}

// State returns the current scheduler state.
func (s *Scheduler) State() SchedulerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	current := s.Interval()
	ticker := time.NewTicker(current)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Println("scheduler context cancelled")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.RLock()
			state := s.state
			interval := s.interval
			s.mu.RUnlock()
			if interval != current && interval > 0 {
				ticker.Reset(interval)
				current = interval
			}
			if state != SchedulerStateRunning {
				continue
			}
			s.runCycle(ctx)
		}
	}
}

// runCycle executes one batching attempt. Errors are logged and never
// propagated: batcher failures are fully internal (§7) and simply leave
// their candidate attestations unbatched for the next cycle.
func (s *Scheduler) runCycle(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(ctx, s.cycleDeadline)
	defer cancel()

	result, err := s.closeBatch(cycleCtx)
	if err != nil {
		if err != ErrBatchEmpty && err != ErrBatchLockHeld {
			s.logger.Printf("batch cycle failed: %v", err)
		}
		return
	}

	s.logger.Printf("closed batch %s (%d leaves, tx=%s)", result.BatchID, result.LeafCount, result.LedgerTxRef)

	s.mu.RLock()
	cb := s.callback
	s.mu.RUnlock()
	if cb != nil {
		cb(cycleCtx, result)
	}
}

// closeBatch collects unbatched attestations, builds the tree, commits
// to the ledger, and marks the batch committed. Attestations are marked
// batched only after the ledger commit succeeds. An unconfigured ledger
// returns before any database row is created; the pending batch row is
// created just before the anchor call and removed by DeletePendingBatch
// if that call fails; a failure after a successful anchor leaves the
// pending batch row in place for operator inspection, with its
// attestations still unbatched.
func (s *Scheduler) closeBatch(ctx context.Context) (*ClosedBatchResult, error) {
	acquired, err := s.repos.Batches.TryAcquireBatchLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire batch advisory lock: %w", err)
	}
	if !acquired {
		return nil, ErrBatchLockHeld
	}
	defer func() {
		if relErr := s.repos.Batches.ReleaseBatchLock(ctx); relErr != nil {
			s.logger.Printf("failed to release batch advisory lock: %v", relErr)
		}
	}()

	cycleStart := time.Now()
	attestations, err := s.repos.Attestations.GetUnbatched(ctx, s.maxLeaves)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unbatched attestations: %w", err)
	}
	if len(attestations) < s.minLeaves {
		return nil, ErrBatchEmpty
	}

	leaves := make([][]byte, len(attestations))
	attestationIDs := make([]uuid.UUID, len(attestations))
	for i, a := range attestations {
		digestBytes, err := hex.DecodeString(strings.TrimPrefix(a.Digest, "0x"))
		if err != nil || len(digestBytes) != 32 {
			return nil, fmt.Errorf("attestation %s has malformed digest %q", a.AttestationID, a.Digest)
		}
		leaves[i] = digestBytes
		attestationIDs[i] = a.AttestationID
	}

	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		return nil, fmt.Errorf("failed to build merkle tree: %w", err)
	}
	rootHex := tree.RootHex()

	if s.ledger == nil || !s.ledger.Configured() {
		return nil, fmt.Errorf("ledger not configured, leaving %d attestations unbatched", len(attestations))
	}

	pending, err := s.repos.Batches.CreatePendingBatch(ctx, rootHex, len(leaves))
	if err != nil {
		return nil, fmt.Errorf("failed to create pending batch: %w", err)
	}

	var root [32]byte
	copy(root[:], tree.Root())

	ledgerCallStart := time.Now()
	anchor, err := s.ledger.AnchorBatch(ctx, root, len(leaves))
	if s.metrics != nil {
		s.metrics.ObserveLedgerCall("anchor_batch", ledgerCallStart)
	}
	if err != nil {
		if delErr := s.repos.Batches.DeletePendingBatch(ctx, pending.BatchID); delErr != nil {
			s.logger.Printf("failed to remove pending batch %s after ledger failure: %v", pending.BatchID, delErr)
		}
		return nil, fmt.Errorf("ledger anchor failed: %w", err)
	}

	tx, err := s.repos.Batches.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin commit transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.repos.Batches.MarkCommittedWithinTx(ctx, tx, pending.BatchID, anchor.TxRef); err != nil {
		return nil, fmt.Errorf("failed to mark batch committed: %w", err)
	}
	if err := s.repos.Attestations.MarkBatchedWithinTx(ctx, tx, attestationIDs, pending.BatchID, anchor.TxRef); err != nil {
		return nil, fmt.Errorf("failed to mark attestations batched: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}

	s.costs.RecordBatchCost(ctx, anchor.GasUsed, len(leaves))
	if s.metrics != nil {
		s.metrics.ObserveBatch(len(leaves), cycleStart)
	}

	return &ClosedBatchResult{
		BatchID:     pending.BatchID,
		RootDigest:  rootHex,
		LeafCount:   len(leaves),
		LedgerTxRef: anchor.TxRef,
	}, nil
}

// TriggerClose manually runs one batching cycle immediately, for
// administrative on-demand batching or graceful shutdown draining.
func (s *Scheduler) TriggerClose(ctx context.Context) (*ClosedBatchResult, error) {
	return s.closeBatch(ctx)
}

// SetCallback sets the callback invoked after a batch closes.
func (s *Scheduler) SetCallback(cb BatchReadyCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

// Interval returns the current batch cadence.
func (s *Scheduler) Interval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interval
}

// SetInterval updates the batch cadence; takes effect on the next tick.
func (s *Scheduler) SetInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
	s.logger.Printf("batch interval updated to %s", d)
}
