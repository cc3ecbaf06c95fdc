package signal

import (
	"math"

	"trade-signal-sim/internal/indicators"
)

// Features is what an external probability model is shown
type Features struct {
	Snapshot      indicators.Snapshot
	MomentumGap   float64 // Clamped (fast-slow)/slow, scaled to [-1,1]
	MeanReversion float64
}

// Gate supplies an opaque (p_long, p_short) pair. ok=false means the model
// had nothing to say and the aggregator treats it as absent.
type Gate interface {
	Probabilities(f Features) (pLong, pShort float64, ok bool)
}

// GateFunc adapts a function to Gate
type GateFunc func(f Features) (float64, float64, bool)

// Probabilities implements Gate
func (fn GateFunc) Probabilities(f Features) (float64, float64, bool) {
	return fn(f)
}

// NeutralGate always answers 0.5/0.5
type NeutralGate struct{}

// Probabilities implements Gate
func (NeutralGate) Probabilities(Features) (float64, float64, bool) {
	return 0.5, 0.5, true
}

// HeuristicGate is a deterministic logistic scorer standing in for a trained
// model. Momentum pushes the long probability up, stretched z-scores pull it
// back toward the mean.
type HeuristicGate struct {
	MomentumWeight  float64 `json:"momentum_weight" yaml:"momentum_weight"`
	ReversionWeight float64 `json:"reversion_weight" yaml:"reversion_weight"`
	Steepness       float64 `json:"steepness" yaml:"steepness"`
}

// DefaultHeuristicGate returns a mildly trend-following scorer
func DefaultHeuristicGate() *HeuristicGate {
	return &HeuristicGate{
		MomentumWeight:  0.7,
		ReversionWeight: 0.3,
		Steepness:       3.0,
	}
}

// Probabilities implements Gate
func (g *HeuristicGate) Probabilities(f Features) (float64, float64, bool) {
	if f.Snapshot.SlowSMA == 0 {
		return 0, 0, false
	}

	score := clamp(f.MomentumGap, -1, 1) * g.MomentumWeight
	// Overstretched closes revert
	score -= clamp(f.Snapshot.ZScore/3, -1, 1) * g.ReversionWeight
	score = clamp(score, -1, 1)

	pLong := 1 / (1 + math.Exp(-g.Steepness*score))
	return pLong, 1 - pLong, true
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
