// Cost tracker: tracks external-ledger anchoring gas costs and amortizes
// them into a per-attestation unit cost, recorded on each attestation at
// issue time (§4.5) as an estimate of its eventual batched anchoring cost.

package batch

import (
	"context"
	"log"
	"math/big"
	"sync"
	"time"
)

// CostTracker tracks anchoring gas costs and exposes the current
// amortized per-attestation unit cost.
type CostTracker struct {
	mu sync.RWMutex

	defaultUnitCostUSD map[string]float64 // per-tier fallback before any batch has been anchored
	ethPriceUSD        float64

	totalGasUsed  int64
	totalBatches  int64
	totalLeaves   int64
	totalCostWei  *big.Int

	logger *log.Logger
}

// CostTrackerConfig holds tracker configuration.
type CostTrackerConfig struct {
	DefaultUnitCostUSD map[string]float64 // tier name -> unit cost before any anchoring data exists
	EthPriceUSD        float64
	Logger             *log.Logger
}

// DefaultCostTrackerConfig returns default configuration: a flat $0.05
// per-attestation estimate for every tier until real anchoring data
// accumulates.
func DefaultCostTrackerConfig() *CostTrackerConfig {
	return &CostTrackerConfig{
		DefaultUnitCostUSD: map[string]float64{
			"free":       0.05,
			"standard":   0.05,
			"enterprise": 0.05,
		},
		EthPriceUSD: 3500.0,
		Logger:      log.New(log.Writer(), "[CostTracker] ", log.LstdFlags),
	}
}

// NewCostTracker creates a new cost tracker.
func NewCostTracker(cfg *CostTrackerConfig) *CostTracker {
	if cfg == nil {
		cfg = DefaultCostTrackerConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[CostTracker] ", log.LstdFlags)
	}
	if cfg.DefaultUnitCostUSD == nil {
		cfg.DefaultUnitCostUSD = DefaultCostTrackerConfig().DefaultUnitCostUSD
	}
	return &CostTracker{
		defaultUnitCostUSD: cfg.DefaultUnitCostUSD,
		ethPriceUSD:        cfg.EthPriceUSD,
		totalCostWei:       big.NewInt(0),
		logger:             cfg.Logger,
	}
}

// RecordBatchCost records the gas cost of an anchored batch, which folds
// into the running per-leaf average used for future unit-cost estimates.
func (t *CostTracker) RecordBatchCost(ctx context.Context, gasUsed uint64, leafCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalGasUsed += int64(gasUsed)
	t.totalBatches++
	t.totalLeaves += int64(leafCount)

	t.logger.Printf("recorded batch cost: gas=%d leaves=%d avg_unit_cost_usd=%.4f",
		gasUsed, leafCount, t.averageUnitCostUSDLocked())
}

// UnitCostFor returns the estimated per-attestation cost for tier at issue
// time: the running amortized average once at least one batch has been
// anchored, otherwise the configured per-tier default.
func (t *CostTracker) UnitCostFor(tier string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.totalBatches == 0 {
		if c, ok := t.defaultUnitCostUSD[tier]; ok {
			return c
		}
		return t.defaultUnitCostUSD["free"]
	}
	return t.averageUnitCostUSDLocked()
}

func (t *CostTracker) averageUnitCostUSDLocked() float64 {
	if t.totalLeaves == 0 {
		return 0
	}
	gasCostWei := new(big.Float).SetInt(big.NewInt(t.totalGasUsed))
	// approximate gas price at 20 gwei for amortization purposes; actual
	// spend is tracked precisely per batch by the ledger transaction log
	gweiPerGas := big.NewFloat(20e9)
	weiSpent := new(big.Float).Mul(gasCostWei, gweiPerGas)
	ethSpent := new(big.Float).Quo(weiSpent, big.NewFloat(1e18))
	usdSpent, _ := new(big.Float).Mul(ethSpent, big.NewFloat(t.ethPriceUSD)).Float64()
	return usdSpent / float64(t.totalLeaves)
}

// SetEthPrice updates the ETH/USD price used for future cost estimates.
func (t *CostTracker) SetEthPrice(price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ethPriceUSD = price
}

// Stats reports running cost-tracker totals for operational visibility.
type Stats struct {
	TotalBatches int64     `json:"total_batches"`
	TotalLeaves  int64     `json:"total_leaves"`
	TotalGasUsed int64     `json:"total_gas_used"`
	EthPriceUSD  float64   `json:"eth_price_usd"`
	AsOf         time.Time `json:"as_of"`
}

// Stats returns the current running totals.
func (t *CostTracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Stats{
		TotalBatches: t.totalBatches,
		TotalLeaves:  t.totalLeaves,
		TotalGasUsed: t.totalGasUsed,
		EthPriceUSD:  t.ethPriceUSD,
		AsOf:         time.Now(),
	}
}
