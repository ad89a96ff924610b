package batch

import (
	"context"
	"testing"
)

func TestUnitCostForUsesDefaultsBeforeAnyBatch(t *testing.T) {
	tracker := NewCostTracker(&CostTrackerConfig{
		DefaultUnitCostUSD: map[string]float64{"free": 0.01, "standard": 0.05, "enterprise": 0.10},
		EthPriceUSD:        3000,
	})

	if got := tracker.UnitCostFor("standard"); got != 0.05 {
		t.Errorf("UnitCostFor(standard) = %v, want 0.05", got)
	}
	if got := tracker.UnitCostFor("unknown-tier"); got != 0.01 {
		t.Errorf("UnitCostFor(unknown-tier) = %v, want fallback 0.01", got)
	}
}

func TestRecordBatchCostSwitchesToRunningAverage(t *testing.T) {
	tracker := NewCostTracker(nil)

	tracker.RecordBatchCost(context.Background(), 100_000, 10)

	stats := tracker.Stats()
	if stats.TotalBatches != 1 {
		t.Fatalf("TotalBatches = %d, want 1", stats.TotalBatches)
	}
	if stats.TotalLeaves != 10 {
		t.Fatalf("TotalLeaves = %d, want 10", stats.TotalLeaves)
	}
	if stats.TotalGasUsed != 100_000 {
		t.Fatalf("TotalGasUsed = %d, want 100000", stats.TotalGasUsed)
	}

	// once a batch has been anchored, the default estimate is replaced by
	// the running amortized average for every tier.
	got := tracker.UnitCostFor("standard")
	if got <= 0 {
		t.Errorf("UnitCostFor(standard) after recording = %v, want positive amortized cost", got)
	}
}

func TestRecordBatchCostAccumulatesAcrossCalls(t *testing.T) {
	tracker := NewCostTracker(nil)

	tracker.RecordBatchCost(context.Background(), 50_000, 5)
	tracker.RecordBatchCost(context.Background(), 50_000, 5)

	stats := tracker.Stats()
	if stats.TotalBatches != 2 {
		t.Errorf("TotalBatches = %d, want 2", stats.TotalBatches)
	}
	if stats.TotalLeaves != 10 {
		t.Errorf("TotalLeaves = %d, want 10", stats.TotalLeaves)
	}
	if stats.TotalGasUsed != 100_000 {
		t.Errorf("TotalGasUsed = %d, want 100000", stats.TotalGasUsed)
	}
}

func TestSetEthPriceAffectsFutureEstimates(t *testing.T) {
	tracker := NewCostTracker(nil)
	tracker.RecordBatchCost(context.Background(), 100_000, 10)

	low := tracker.UnitCostFor("standard")
	tracker.SetEthPrice(tracker.Stats().EthPriceUSD * 10)
	high := tracker.UnitCostFor("standard")

	if high <= low {
		t.Errorf("raising eth price should raise unit cost estimate: low=%v high=%v", low, high)
	}
}
