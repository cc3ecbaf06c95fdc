package risk

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trade-signal-sim/internal/market"
)

// ErrRiskRejected is returned when sizing cannot produce a valid order
var ErrRiskRejected = errors.New("risk rejected")

// RewardRiskTier raises the reward:risk ratio for confident signals
type RewardRiskTier struct {
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
	Ratio         float64 `json:"ratio" yaml:"ratio"`
}

// LeverageStep is one point on the discrete leverage curve
type LeverageStep struct {
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
	Leverage      float64 `json:"leverage" yaml:"leverage"`
}

// Config holds sizing configuration
type Config struct {
	RiskPerTrade    float64          `json:"risk_per_trade" yaml:"risk_per_trade"` // Fraction of equity risked per trade
	ATRMultiplier   float64          `json:"atr_multiplier" yaml:"atr_multiplier"`
	MinStopPips     float64          `json:"min_stop_pips" yaml:"min_stop_pips"`
	RewardRisk      float64          `json:"reward_risk" yaml:"reward_risk"`
	MinRewardRisk   float64          `json:"min_reward_risk" yaml:"min_reward_risk"`
	RewardRiskTiers []RewardRiskTier `json:"reward_risk_tiers" yaml:"reward_risk_tiers"`
	BaseLeverage    float64          `json:"base_leverage" yaml:"base_leverage"`
	MaxLeverage     float64          `json:"max_leverage" yaml:"max_leverage"`
	LeverageCurve   []LeverageStep   `json:"leverage_curve" yaml:"leverage_curve"`
}

// DefaultConfig returns conservative sizing defaults
func DefaultConfig() Config {
	return Config{
		RiskPerTrade:  0.01,
		ATRMultiplier: 1.5,
		MinStopPips:   10,
		RewardRisk:    1.5,
		MinRewardRisk: 1.2,
		RewardRiskTiers: []RewardRiskTier{
			{MinConfidence: 0.75, Ratio: 2.0},
			{MinConfidence: 0.90, Ratio: 2.5},
		},
		BaseLeverage: 1,
		MaxLeverage:  5,
		LeverageCurve: []LeverageStep{
			{MinConfidence: 0.60, Leverage: 2},
			{MinConfidence: 0.75, Leverage: 3},
			{MinConfidence: 0.90, Leverage: 5},
		},
	}
}

// Validate checks the sizing configuration
func (c Config) Validate() error {
	if c.RiskPerTrade <= 0 || c.RiskPerTrade > 1 {
		return fmt.Errorf("risk_per_trade must be within (0,1], got %.4f", c.RiskPerTrade)
	}
	if c.ATRMultiplier <= 0 {
		return fmt.Errorf("atr_multiplier must be positive")
	}
	if c.MinStopPips <= 0 {
		return fmt.Errorf("min_stop_pips must be positive")
	}
	if c.RewardRisk < c.MinRewardRisk || c.MinRewardRisk <= 0 {
		return fmt.Errorf("reward_risk (%.2f) must be at least min_reward_risk (%.2f) and positive", c.RewardRisk, c.MinRewardRisk)
	}
	for _, t := range c.RewardRiskTiers {
		if t.Ratio < c.MinRewardRisk {
			return fmt.Errorf("reward_risk tier %.2f below min_reward_risk", t.Ratio)
		}
	}
	if c.BaseLeverage <= 0 || c.MaxLeverage < c.BaseLeverage {
		return fmt.Errorf("leverage bounds invalid: base %.2f max %.2f", c.BaseLeverage, c.MaxLeverage)
	}
	return nil
}

// Decision is a sized, bracketed order ready to place
type Decision struct {
	Side       market.Side `json:"side"`
	Entry      float64     `json:"entry"`
	Stop       float64     `json:"stop"`
	Target     float64     `json:"target"`
	Size       float64     `json:"size"`
	Leverage   float64     `json:"leverage"`
	StopPips   float64     `json:"stop_pips"`
	TargetPips float64     `json:"target_pips"`
	RewardRisk float64     `json:"reward_risk"`
}

// StopDistance returns |entry - stop|
func (d Decision) StopDistance() float64 {
	return math.Abs(d.Entry - d.Stop)
}

// Sizer turns a signal into a bracketed order size
type Sizer struct {
	cfg        Config
	instrument market.Instrument
	tiers      []RewardRiskTier
	curve      []LeverageStep
	logger     zerolog.Logger
}

// NewSizer creates a sizer for one instrument
func NewSizer(cfg Config, instrument market.Instrument, logger zerolog.Logger) *Sizer {
	tiers := append([]RewardRiskTier(nil), cfg.RewardRiskTiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinConfidence < tiers[j].MinConfidence })
	curve := append([]LeverageStep(nil), cfg.LeverageCurve...)
	sort.Slice(curve, func(i, j int) bool { return curve[i].MinConfidence < curve[j].MinConfidence })

	return &Sizer{
		cfg:        cfg,
		instrument: instrument,
		tiers:      tiers,
		curve:      curve,
		logger: logger.With().
			Str("component", "risk_sizer").
			Str("instrument", instrument.ID).
			Logger(),
	}
}

// RewardRiskFor returns the ratio for a confidence
func (s *Sizer) RewardRiskFor(confidence float64) float64 {
	rr := s.cfg.RewardRisk
	for _, t := range s.tiers {
		if confidence >= t.MinConfidence && t.Ratio > rr {
			rr = t.Ratio
		}
	}
	return math.Max(rr, s.cfg.MinRewardRisk)
}

// LeverageFor looks up the discrete leverage step for a confidence
func (s *Sizer) LeverageFor(confidence float64) float64 {
	lev := s.cfg.BaseLeverage
	for _, step := range s.curve {
		if confidence >= step.MinConfidence {
			lev = step.Leverage
		}
	}
	return math.Min(math.Max(lev, s.cfg.BaseLeverage), s.cfg.MaxLeverage)
}

// Size computes stop, target and size for an entry. atr is in price units.
func (s *Sizer) Size(side market.Side, confidence, entry, atr, equity float64) (Decision, error) {
	if entry <= 0 {
		return Decision{}, fmt.Errorf("%w: non-positive entry %.5f", ErrRiskRejected, entry)
	}
	if equity <= 0 {
		return Decision{}, fmt.Errorf("%w: non-positive equity %.2f", ErrRiskRejected, equity)
	}
	if math.IsNaN(atr) || atr < 0 {
		return Decision{}, fmt.Errorf("%w: invalid atr %.5f", ErrRiskRejected, atr)
	}

	atrPips := s.instrument.ToPips(atr)
	stopPips := math.Max(s.cfg.MinStopPips, atrPips*s.cfg.ATRMultiplier)
	stopDistance := s.instrument.FromPips(stopPips)
	if stopDistance <= 0 || math.IsInf(stopDistance, 0) {
		return Decision{}, fmt.Errorf("%w: stop distance %.5f", ErrRiskRejected, stopDistance)
	}

	rr := s.RewardRiskFor(confidence)
	targetPips := stopPips * rr
	targetDistance := s.instrument.FromPips(targetPips)

	dir := side.Sign()
	stop := entry - dir*stopDistance
	target := entry + dir*targetDistance
	if stop <= 0 {
		return Decision{}, fmt.Errorf("%w: stop %.5f at or below zero", ErrRiskRejected, stop)
	}

	leverage := s.LeverageFor(confidence)
	raw := equity * s.cfg.RiskPerTrade * leverage / stopDistance
	size := floorToStep(raw, s.instrument.UnitStep)
	if size <= 0 {
		return Decision{}, fmt.Errorf("%w: size %.8f rounds to zero at step %g", ErrRiskRejected, raw, s.instrument.UnitStep)
	}
	if notional := size * entry; notional < s.instrument.MinNotional {
		return Decision{}, fmt.Errorf("%w: notional %.2f below minimum %.2f", ErrRiskRejected, notional, s.instrument.MinNotional)
	}

	d := Decision{
		Side:       side,
		Entry:      entry,
		Stop:       stop,
		Target:     target,
		Size:       size,
		Leverage:   leverage,
		StopPips:   stopPips,
		TargetPips: targetPips,
		RewardRisk: rr,
	}

	s.logger.Debug().
		Str("side", string(side)).
		Float64("confidence", confidence).
		Float64("entry", entry).
		Float64("stop", stop).
		Float64("target", target).
		Float64("size", size).
		Float64("leverage", leverage).
		Msg("Position sized")

	return d, nil
}

// floorToStep floors v to a multiple of step in decimal arithmetic.
// step <= 0 floors to whole units.
func floorToStep(v, step float64) float64 {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	dv := decimal.NewFromFloat(v)
	if step <= 0 {
		return dv.Floor().InexactFloat64()
	}
	ds := decimal.NewFromFloat(step)
	return dv.Div(ds).Floor().Mul(ds).InexactFloat64()
}
