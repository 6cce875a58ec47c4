// Package survival classifies the agent's liquidity into coarse tiers
// that drive action gating and alerting.
package survival

import (
	"os"
	"strconv"

	"aethernet/internal/config"
	"aethernet/internal/store"
)

// Tiers, ordered from healthy to dead.
const (
	TierNormal     = "normal"
	TierLowCompute = "low_compute"
	TierCritical   = "critical"
	TierDead       = "dead"
)

// EstimateEnv names the env var that overrides the liquidity estimate.
const EstimateEnv = "AETHERNET_ESTIMATED_USD"

// Evaluator computes tiers from a liquidity estimate and records
// snapshots.
type Evaluator struct {
	cfg   config.SurvivalConfig
	store *store.Store
}

// NewEvaluator builds an evaluator over the store.
func NewEvaluator(cfg config.SurvivalConfig, st *store.Store) *Evaluator {
	return &Evaluator{cfg: cfg, store: st}
}

// Tier classifies an estimate. Monotone: a lower estimate never maps
// to a healthier tier.
func (e *Evaluator) Tier(estimatedUsd int) string {
	switch {
	case estimatedUsd <= e.cfg.DeadUsd:
		return TierDead
	case estimatedUsd <= e.cfg.CriticalUsd:
		return TierCritical
	case estimatedUsd <= e.cfg.LowComputeUsd:
		return TierLowCompute
	default:
		return TierNormal
	}
}

// Estimate reads the external liquidity estimate. The env var wins;
// otherwise the previous snapshot's value carries forward, defaulting
// to a healthy-but-modest figure on first run.
func (e *Evaluator) Estimate() int {
	if raw := os.Getenv(EstimateEnv); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	if snap, err := e.store.LatestSurvivalSnapshot(); err == nil && snap != nil {
		return snap.EstimatedUsd
	}
	return e.cfg.LowComputeUsd + 1
}

// Snapshot evaluates the current tier and appends a snapshot row.
func (e *Evaluator) Snapshot() (*store.SurvivalSnapshot, error) {
	est := e.Estimate()
	snap := &store.SurvivalSnapshot{Tier: e.Tier(est), EstimatedUsd: est}
	if err := e.store.AppendSurvivalSnapshot(snap); err != nil {
		return nil, err
	}
	return snap, nil
}
