// Package indicators holds pure functions over a trailing window of bars.
package indicators

import (
	"errors"
	"fmt"
	"math"

	"trade-signal-sim/internal/market"
)

// ErrInsufficientHistory is returned when the window is shorter than the indicator needs
var ErrInsufficientHistory = errors.New("insufficient history")

// varianceEpsilon guards the z-score divide
const varianceEpsilon = 1e-12

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|)
func TrueRange(bar market.Bar, prevClose float64) float64 {
	return math.Max(
		bar.High-bar.Low,
		math.Max(
			math.Abs(bar.High-prevClose),
			math.Abs(bar.Low-prevClose),
		),
	)
}

// ATR is the simple mean of the true range over the last period bars.
// It needs period+1 bars because each true range looks at the previous close.
func ATR(bars []market.Bar, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("atr period must be positive, got %d", period)
	}
	if len(bars) < period+1 {
		return 0, fmt.Errorf("atr(%d) needs %d bars, have %d: %w", period, period+1, len(bars), ErrInsufficientHistory)
	}

	trSum := 0.0
	startIdx := len(bars) - period
	for i := startIdx; i < len(bars); i++ {
		trSum += TrueRange(bars[i], bars[i-1].Close)
	}
	return trSum / float64(period), nil
}

// SMA is the mean of the last period values
func SMA(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("sma period must be positive, got %d", period)
	}
	if len(values) < period {
		return 0, fmt.Errorf("sma(%d) needs %d values, have %d: %w", period, period, len(values), ErrInsufficientHistory)
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), nil
}

// ZScore returns (last - mean) / stddev over the last period values using the
// sample standard deviation. Zero is returned when the variance is ~0.
func ZScore(values []float64, period int) (float64, error) {
	if period < 2 {
		return 0, fmt.Errorf("zscore period must be at least 2, got %d", period)
	}
	mean, err := SMA(values, period)
	if err != nil {
		return 0, err
	}
	window := values[len(values)-period:]
	ss := 0.0
	for _, v := range window {
		d := v - mean
		ss += d * d
	}
	variance := ss / float64(period-1)
	if variance < varianceEpsilon {
		return 0, nil
	}
	return (window[len(window)-1] - mean) / math.Sqrt(variance), nil
}

// Closes extracts closing prices
func Closes(bars []market.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
