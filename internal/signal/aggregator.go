// Package signal blends indicator terms into one directional confidence.
package signal

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"trade-signal-sim/internal/indicators"
	"trade-signal-sim/internal/market"
)

// Weights for the three confidence terms
type Weights struct {
	FVG           float64 `json:"fvg" yaml:"fvg"`
	Momentum      float64 `json:"momentum" yaml:"momentum"`
	MeanReversion float64 `json:"mean_reversion" yaml:"mean_reversion"`
}

// Config controls the aggregator
type Config struct {
	Weights            Weights `json:"weights" yaml:"weights"`
	MomentumScale      float64 `json:"momentum_scale" yaml:"momentum_scale"`               // Fractional SMA gap that maps to full momentum
	FVGFullStrengthATR float64 `json:"fvg_full_strength_atr" yaml:"fvg_full_strength_atr"` // Gap size, in ATRs, that counts as full strength
	MLMix              float64 `json:"ml_mix" yaml:"ml_mix"`                               // Share of the FVG term taken from an agreeing probability
	MLDampen           float64 `json:"ml_dampen" yaml:"ml_dampen"`                         // Confidence cut at full disagreement
	OpenThreshold      float64 `json:"open_threshold" yaml:"open_threshold"`
	AddThreshold       float64 `json:"add_threshold" yaml:"add_threshold"` // Stricter threshold on top of an open position
}

// DefaultConfig returns balanced aggregator settings
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			FVG:           0.5,
			Momentum:      0.3,
			MeanReversion: 0.2,
		},
		MomentumScale:      0.002,
		FVGFullStrengthATR: 0.25,
		MLMix:              0.5,
		MLDampen:           0.5,
		OpenThreshold:      0.55,
		AddThreshold:       0.70,
	}
}

// Validate checks weights and thresholds
func (c Config) Validate() error {
	w := c.Weights
	if w.FVG < 0 || w.Momentum < 0 || w.MeanReversion < 0 {
		return fmt.Errorf("signal weights must be non-negative")
	}
	if sum := w.FVG + w.Momentum + w.MeanReversion; sum <= 0 || sum > 1+1e-9 {
		return fmt.Errorf("signal weights must sum to (0,1], got %.3f", sum)
	}
	if c.MomentumScale <= 0 {
		return fmt.Errorf("momentum_scale must be positive")
	}
	if c.FVGFullStrengthATR <= 0 {
		return fmt.Errorf("fvg_full_strength_atr must be positive")
	}
	if c.MLMix < 0 || c.MLMix > 1 || c.MLDampen < 0 || c.MLDampen > 1 {
		return fmt.Errorf("ml_mix and ml_dampen must be within [0,1]")
	}
	if c.OpenThreshold <= 0 || c.OpenThreshold > 1 {
		return fmt.Errorf("open_threshold must be within (0,1]")
	}
	if c.AddThreshold <= c.OpenThreshold {
		return fmt.Errorf("add_threshold (%.2f) must exceed open_threshold (%.2f)", c.AddThreshold, c.OpenThreshold)
	}
	return nil
}

// Breakdown records each term that went into a confidence
type Breakdown struct {
	BaseScore     float64 `json:"base_score"`
	FVG           float64 `json:"fvg"`
	Momentum      float64 `json:"momentum"`
	MeanReversion float64 `json:"mean_reversion"`
	MLProb        float64 `json:"ml_prob,omitempty"`
	MLEffect      string  `json:"ml_effect,omitempty"` // "blend", "dampen" or empty
}

// Signal is a directional decision with its confidence
type Signal struct {
	Side       market.Side `json:"side"`
	Confidence float64     `json:"confidence"`
	Breakdown  Breakdown   `json:"breakdown"`
}

// Aggregator scores indicator snapshots
type Aggregator struct {
	cfg    Config
	gate   Gate
	logger zerolog.Logger
}

// NewAggregator creates an aggregator. gate may be nil.
func NewAggregator(cfg Config, gate Gate, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		cfg:    cfg,
		gate:   gate,
		logger: logger.With().Str("component", "signal_aggregator").Logger(),
	}
}

// Score computes side and confidence without applying any threshold
func (a *Aggregator) Score(snap indicators.Snapshot) Signal {
	momentumGap := 0.0
	if snap.SlowSMA != 0 {
		momentumGap = clamp(((snap.FastSMA-snap.SlowSMA)/snap.SlowSMA)/a.cfg.MomentumScale, -1, 1)
	}
	meanrev := math.Min(math.Abs(snap.ZScore), 3) / 3

	fvgBull, fvgBear := 0.0, 0.0
	switch snap.FVG.Direction {
	case indicators.DirectionBullish:
		fvgBull = 1
	case indicators.DirectionBearish:
		fvgBear = 1
	}
	base := fvgBull - fvgBear + 0.5*sign(snap.FastSMA-snap.SlowSMA)

	side := market.SideLong
	if base < 0 {
		side = market.SideShort
	}

	fvgAligned := (side == market.SideLong && fvgBull == 1) || (side == market.SideShort && fvgBear == 1)
	fvgWeight := 0.0
	if fvgAligned && snap.ATR > 0 {
		fvgWeight = math.Min(1, snap.FVG.Size/(snap.ATR*a.cfg.FVGFullStrengthATR))
	}

	momentum := (1 + momentumGap) / 2
	if side == market.SideShort {
		momentum = (1 - momentumGap) / 2
	}

	bd := Breakdown{
		BaseScore:     base,
		FVG:           fvgWeight,
		Momentum:      momentum,
		MeanReversion: meanrev,
	}

	fvgTerm := fvgWeight
	dampen := 1.0
	if a.gate != nil {
		pLong, pShort, ok := a.gate.Probabilities(Features{
			Snapshot:      snap,
			MomentumGap:   momentumGap,
			MeanReversion: meanrev,
		})
		if ok {
			p := pLong
			if side == market.SideShort {
				p = pShort
			}
			bd.MLProb = p
			switch {
			case p > 0.5 && fvgAligned:
				fvgTerm = a.cfg.MLMix*p + (1-a.cfg.MLMix)*fvgWeight
				bd.MLEffect = "blend"
			case p < 0.5:
				dampen = 1 - a.cfg.MLDampen*(0.5-p)*2
				bd.MLEffect = "dampen"
			}
		}
	}

	w := a.cfg.Weights
	conf := w.FVG*fvgTerm + w.Momentum*momentum + w.MeanReversion*meanrev
	conf = clamp(conf*dampen, 0, 1)

	return Signal{Side: side, Confidence: conf, Breakdown: bd}
}

// Evaluate returns a signal only when it clears the open threshold, or the
// stricter add threshold when a position is already held. Sub-threshold
// scores are discarded.
func (a *Aggregator) Evaluate(snap indicators.Snapshot, hasPosition bool) *Signal {
	sig := a.Score(snap)

	threshold := a.cfg.OpenThreshold
	if hasPosition {
		threshold = a.cfg.AddThreshold
	}
	if sig.Confidence < threshold {
		a.logger.Debug().
			Str("side", string(sig.Side)).
			Float64("confidence", sig.Confidence).
			Float64("threshold", threshold).
			Msg("Signal below threshold")
		return nil
	}
	return &sig
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
