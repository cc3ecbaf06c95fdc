package risk

import (
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"trade-signal-sim/internal/market"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func plainConfig() Config {
	return Config{
		RiskPerTrade:  0.01,
		ATRMultiplier: 1,
		MinStopPips:   10,
		RewardRisk:    1.2,
		MinRewardRisk: 1.2,
		BaseLeverage:  1,
		MaxLeverage:   1,
	}
}

// TestSizeBullishSetup verifies stop at entry-10 pips and target at entry+12 pips
func TestSizeBullishSetup(t *testing.T) {
	inst := market.Instrument{ID: "TEST", PipSize: 1, UnitStep: 1}
	s := NewSizer(plainConfig(), inst, zerolog.Nop())

	d, err := s.Size(market.SideLong, 0.57, 112, 10, 10000)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if !approx(d.Stop, 102) || !approx(d.Target, 124) {
		t.Errorf("Expected stop 102 target 124, got %f/%f", d.Stop, d.Target)
	}
	// 10000 * 0.01 * 1 / 10
	if d.Size != 10 {
		t.Errorf("Expected size 10, got %f", d.Size)
	}
	if d.StopDistance() < 10 {
		t.Errorf("Stop distance %f below minimum", d.StopDistance())
	}
}

// TestSizeMinStopFloor verifies small ATR values are floored to the minimum stop
func TestSizeMinStopFloor(t *testing.T) {
	inst := market.Instrument{ID: "EURUSD", PipSize: 0.0001, UnitStep: 1000}
	s := NewSizer(plainConfig(), inst, zerolog.Nop())

	tests := []struct {
		name     string
		side     market.Side
		atr      float64
		wantPips float64
	}{
		{"tiny atr long", market.SideLong, 0.0002, 10},
		{"tiny atr short", market.SideShort, 0.0001, 10},
		{"wide atr", market.SideLong, 0.0025, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := s.Size(tt.side, 0.6, 1.1, tt.atr, 100000)
			if err != nil {
				t.Fatalf("Size failed: %v", err)
			}
			if !approx(d.StopPips, tt.wantPips) {
				t.Errorf("Expected %f stop pips, got %f", tt.wantPips, d.StopPips)
			}
			if d.StopDistance() < inst.FromPips(10)-1e-12 {
				t.Errorf("Stop distance %f below floor", d.StopDistance())
			}
			if ratio := math.Abs(d.Target-d.Entry) / d.StopDistance(); ratio < 1.2-1e-9 {
				t.Errorf("Expected reward:risk >= 1.2, got %f", ratio)
			}
			if tt.side == market.SideShort && (d.Stop <= d.Entry || d.Target >= d.Entry) {
				t.Errorf("Short bracket on wrong side: %+v", d)
			}
			if math.Mod(d.Size, 1000) != 0 {
				t.Errorf("Expected size in 1000-unit steps, got %f", d.Size)
			}
		})
	}
}

// TestSizeRejections verifies sizing fails closed
func TestSizeRejections(t *testing.T) {
	inst := market.Instrument{ID: "TEST", PipSize: 1, UnitStep: 1, MinNotional: 50}

	tests := []struct {
		name   string
		entry  float64
		atr    float64
		equity float64
	}{
		{"zero equity", 100, 5, 0},
		{"zero entry", 0, 5, 1000},
		{"size rounds to zero", 100, 5, 100},
		{"below min notional", 20, 5, 2000},
		{"stop below zero", 5, 5, 100000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSizer(plainConfig(), inst, zerolog.Nop())
			if _, err := s.Size(market.SideLong, 0.6, tt.entry, tt.atr, tt.equity); !errors.Is(err, ErrRiskRejected) {
				t.Errorf("Expected ErrRiskRejected, got %v", err)
			}
		})
	}
}

// TestLeverageCurve verifies discrete steps clamped to bounds
func TestLeverageCurve(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLeverage = 4
	s := NewSizer(cfg, market.Instrument{ID: "X", PipSize: 1}, zerolog.Nop())

	tests := []struct {
		conf float64
		want float64
	}{
		{0.10, 1},
		{0.60, 2},
		{0.74, 2},
		{0.80, 3},
		{0.95, 4},
	}
	for _, tt := range tests {
		if got := s.LeverageFor(tt.conf); got != tt.want {
			t.Errorf("LeverageFor(%.2f): expected %f, got %f", tt.conf, tt.want, got)
		}
	}
}

// TestRewardRiskTiers verifies confident signals get a larger target
func TestRewardRiskTiers(t *testing.T) {
	s := NewSizer(DefaultConfig(), market.Instrument{ID: "X", PipSize: 1}, zerolog.Nop())
	if got := s.RewardRiskFor(0.6); got != 1.5 {
		t.Errorf("Expected 1.5, got %f", got)
	}
	if got := s.RewardRiskFor(0.8); got != 2.0 {
		t.Errorf("Expected 2.0, got %f", got)
	}
	if got := s.RewardRiskFor(0.95); got != 2.5 {
		t.Errorf("Expected 2.5, got %f", got)
	}
}

// TestFloorToStep verifies decimal flooring
func TestFloorToStep(t *testing.T) {
	tests := []struct {
		v, step, want float64
	}{
		{0.3, 0.1, 0.3},
		{12.99, 1, 12},
		{12.99, 0, 12},
		{1234.5, 1000, 1000},
		{0.0004, 0.001, 0},
	}
	for _, tt := range tests {
		if got := floorToStep(tt.v, tt.step); !approx(got, tt.want) {
			t.Errorf("floorToStep(%g, %g): expected %g, got %g", tt.v, tt.step, tt.want, got)
		}
	}
}

// TestTrailingPolicy verifies activation and distance
func TestTrailingPolicy(t *testing.T) {
	p := NewTrailingPolicy(TrailingConfig{Enabled: true, ActivationR: 1, ATRMultiplier: 2, MinDistance: 5})
	if p.ShouldArm(0.99) || !p.ShouldArm(1) {
		t.Error("Expected arming exactly at 1R")
	}
	if got := p.Distance(10); got != 20 {
		t.Errorf("Expected distance 20, got %f", got)
	}
	if got := p.Distance(1); got != 5 {
		t.Errorf("Expected floor distance 5, got %f", got)
	}

	off := NewTrailingPolicy(TrailingConfig{Enabled: false, ActivationR: 1})
	if off.ShouldArm(10) {
		t.Error("Expected disabled policy never to arm")
	}
}
