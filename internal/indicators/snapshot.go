package indicators

import (
	"fmt"
	"time"

	"trade-signal-sim/internal/market"
)

// Params configures the indicator windows
type Params struct {
	ATRPeriod   int `json:"atr_period" yaml:"atr_period"`
	FastPeriod  int `json:"fast_period" yaml:"fast_period"`
	SlowPeriod  int `json:"slow_period" yaml:"slow_period"`
	ZPeriod     int `json:"z_period" yaml:"z_period"`
	FVGLookback int `json:"fvg_lookback" yaml:"fvg_lookback"`
}

// DefaultParams returns the standard indicator windows
func DefaultParams() Params {
	return Params{
		ATRPeriod:   14,
		FastPeriod:  10,
		SlowPeriod:  30,
		ZPeriod:     20,
		FVGLookback: 20,
	}
}

// Validate checks the windows are usable
func (p Params) Validate() error {
	if p.ATRPeriod <= 0 || p.FastPeriod <= 0 || p.SlowPeriod <= 0 {
		return fmt.Errorf("indicator periods must be positive")
	}
	if p.FastPeriod >= p.SlowPeriod {
		return fmt.Errorf("fast_period (%d) must be below slow_period (%d)", p.FastPeriod, p.SlowPeriod)
	}
	if p.ZPeriod < 2 {
		return fmt.Errorf("z_period must be at least 2")
	}
	if p.FVGLookback < 3 {
		return fmt.Errorf("fvg_lookback must be at least 3")
	}
	return nil
}

// Window is the trailing bar count Compute needs
func (p Params) Window() int {
	w := p.ATRPeriod + 1
	for _, n := range []int{p.SlowPeriod, p.FastPeriod, p.ZPeriod, p.FVGLookback} {
		if n > w {
			w = n
		}
	}
	return w
}

// Snapshot holds the per-bar derived values. It is a value and is never
// mutated after Compute returns it.
type Snapshot struct {
	Time    time.Time `json:"time"`
	Close   float64   `json:"close"`
	ATR     float64   `json:"atr"`
	FastSMA float64   `json:"fast_sma"`
	SlowSMA float64   `json:"slow_sma"`
	ZScore  float64   `json:"z_score"`
	FVG     Gap       `json:"fvg"`
}

// Compute derives a snapshot from the trailing window ending at the last bar
func Compute(bars []market.Bar, p Params) (Snapshot, error) {
	if len(bars) == 0 {
		return Snapshot{}, fmt.Errorf("no bars: %w", ErrInsufficientHistory)
	}
	if w := p.Window(); len(bars) > w {
		bars = bars[len(bars)-w:]
	}

	atr, err := ATR(bars, p.ATRPeriod)
	if err != nil {
		return Snapshot{}, err
	}
	closes := Closes(bars)
	fast, err := SMA(closes, p.FastPeriod)
	if err != nil {
		return Snapshot{}, err
	}
	slow, err := SMA(closes, p.SlowPeriod)
	if err != nil {
		return Snapshot{}, err
	}
	z, err := ZScore(closes, p.ZPeriod)
	if err != nil {
		return Snapshot{}, err
	}

	last := bars[len(bars)-1]
	return Snapshot{
		Time:    last.Time,
		Close:   last.Close,
		ATR:     atr,
		FastSMA: fast,
		SlowSMA: slow,
		ZScore:  z,
		FVG:     FVG(bars, p.FVGLookback),
	}, nil
}
