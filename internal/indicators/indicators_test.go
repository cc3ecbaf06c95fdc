package indicators

import (
	"errors"
	"math"
	"testing"
	"time"

	"trade-signal-sim/internal/market"
)

func bar(o, h, l, c float64) market.Bar {
	return market.Bar{Open: o, High: h, Low: l, Close: c}
}

func withTimes(bars []market.Bar) []market.Bar {
	start := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	for i := range bars {
		bars[i].Time = start.Add(time.Duration(i) * time.Minute)
	}
	return bars
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// TestATR verifies the simple mean of Wilder true range
func TestATR(t *testing.T) {
	bars := []market.Bar{
		bar(100, 105, 95, 100),
		bar(100, 108, 98, 106),  // TR max(10, 8, 2) = 10
		bar(106, 116, 106, 112), // TR max(10, 10, 0) = 10
		bar(112, 113, 90, 95),   // TR max(23, 1, 22) = 23
	}

	tests := []struct {
		name   string
		bars   []market.Bar
		period int
		want   float64
	}{
		{"two bars of range", bars[:3], 2, 10},
		{"last two", bars, 2, 16.5},
		{"three", bars, 3, 43.0 / 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ATR(tt.bars, tt.period)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !approx(got, tt.want) {
				t.Errorf("Expected ATR %f, got %f", tt.want, got)
			}
		})
	}
}

// TestATRInsufficientHistory verifies period+1 bars are required
func TestATRInsufficientHistory(t *testing.T) {
	bars := []market.Bar{bar(1, 2, 0, 1), bar(1, 2, 0, 1)}
	if _, err := ATR(bars, 2); !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("Expected ErrInsufficientHistory, got %v", err)
	}
	if _, err := ATR(bars, 1); err != nil {
		t.Errorf("Expected ATR(1) on two bars to succeed, got %v", err)
	}
}

// TestSMAAndZScore verifies the rolling mean and sample z-score
func TestSMAAndZScore(t *testing.T) {
	values := []float64{1, 100, 106, 112}

	sma, err := SMA(values, 3)
	if err != nil || !approx(sma, 106) {
		t.Errorf("Expected SMA 106, got %f (%v)", sma, err)
	}

	// Sample stddev of 100,106,112 is 6
	z, err := ZScore(values, 3)
	if err != nil || !approx(z, 1) {
		t.Errorf("Expected z-score 1, got %f (%v)", z, err)
	}

	if _, err := SMA(values, 5); !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("Expected ErrInsufficientHistory, got %v", err)
	}
}

// TestZScoreFlatWindow verifies a zero-variance window yields 0 instead of NaN
func TestZScoreFlatWindow(t *testing.T) {
	z, err := ZScore([]float64{5, 5, 5, 5}, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if z != 0 {
		t.Errorf("Expected 0, got %f", z)
	}
}

// TestFVG verifies gap direction, size and fill tracking
func TestFVG(t *testing.T) {
	tests := []struct {
		name     string
		bars     []market.Bar
		wantDir  Direction
		wantSize float64
	}{
		{
			name: "bullish",
			bars: []market.Bar{
				bar(95, 100, 94, 98),
				bar(98, 105, 97, 104),
				bar(104, 108, 101, 106),
			},
			wantDir:  DirectionBullish,
			wantSize: 1,
		},
		{
			name: "bearish",
			bars: []market.Bar{
				bar(105, 106, 100, 102),
				bar(102, 103, 95, 96),
				bar(96, 99, 92, 94),
			},
			wantDir:  DirectionBearish,
			wantSize: 1,
		},
		{
			name: "overlapping wicks",
			bars: []market.Bar{
				bar(95, 100, 94, 98),
				bar(98, 105, 97, 104),
				bar(104, 108, 99, 106),
			},
			wantDir: DirectionNone,
		},
		{
			name: "bullish gap filled later",
			bars: []market.Bar{
				bar(95, 100, 94, 98),
				bar(98, 105, 97, 104),
				bar(104, 108, 101, 106),
				bar(106, 107, 99.5, 100),
			},
			wantDir: DirectionNone,
		},
		{
			name: "older unfilled gap survives newer filled one",
			bars: []market.Bar{
				bar(95, 100, 94, 98),
				bar(98, 105, 97, 104),
				bar(104, 108, 103, 106), // bullish 100..103
				bar(106, 120, 105, 118),
				bar(118, 125, 117, 124), // bullish 108..117
				bar(124, 124, 101, 102), // fills the newer gap only
			},
			wantDir:  DirectionBullish,
			wantSize: 3,
		},
		{
			name:    "too few bars",
			bars:    []market.Bar{bar(1, 2, 0, 1)},
			wantDir: DirectionNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FVG(tt.bars, 10)
			if got.Direction != tt.wantDir {
				t.Fatalf("Expected %s, got %s", tt.wantDir, got.Direction)
			}
			if !approx(got.Size, tt.wantSize) {
				t.Errorf("Expected size %f, got %f", tt.wantSize, got.Size)
			}
		})
	}
}

// TestFVGLookback verifies gaps outside the lookback are ignored
func TestFVGLookback(t *testing.T) {
	bars := []market.Bar{
		bar(95, 100, 94, 98),
		bar(98, 105, 97, 104),
		bar(104, 108, 101, 106),
		bar(106, 107, 102, 106),
		bar(106, 107, 102, 106),
	}
	if got := FVG(bars, 3); got.Direction != DirectionNone {
		t.Errorf("Expected none with lookback 3, got %s", got.Direction)
	}
	if got := FVG(bars, 5); got.Direction != DirectionBullish {
		t.Errorf("Expected bullish with lookback 5, got %s", got.Direction)
	}
}

// TestCompute verifies the snapshot for a three-bar bullish setup
func TestCompute(t *testing.T) {
	bars := withTimes([]market.Bar{
		bar(100, 105, 95, 100),
		bar(100, 108, 98, 106),
		bar(106, 116, 106, 112),
	})
	p := Params{ATRPeriod: 2, FastPeriod: 2, SlowPeriod: 3, ZPeriod: 3, FVGLookback: 3}

	snap, err := Compute(bars, p)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if !approx(snap.ATR, 10) {
		t.Errorf("Expected ATR 10, got %f", snap.ATR)
	}
	if !approx(snap.FastSMA, 109) || !approx(snap.SlowSMA, 106) {
		t.Errorf("Expected SMAs 109/106, got %f/%f", snap.FastSMA, snap.SlowSMA)
	}
	if !approx(snap.ZScore, 1) {
		t.Errorf("Expected z-score 1, got %f", snap.ZScore)
	}
	if snap.FVG.Direction != DirectionBullish || !approx(snap.FVG.Size, 1) {
		t.Errorf("Expected bullish gap of 1, got %+v", snap.FVG)
	}
	if !snap.Time.Equal(bars[2].Time) || snap.Close != 112 {
		t.Errorf("Expected snapshot at last bar, got %v close %f", snap.Time, snap.Close)
	}

	if _, err := Compute(bars[:2], p); !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("Expected ErrInsufficientHistory on 2 bars, got %v", err)
	}
}
