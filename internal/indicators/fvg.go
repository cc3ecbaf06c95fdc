package indicators

import (
	"trade-signal-sim/internal/market"
)

// Direction of a fair value gap
type Direction string

const (
	DirectionNone    Direction = "none"
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
)

// Gap is the most recent unfilled fair value gap
type Gap struct {
	Direction Direction `json:"direction"`
	Size      float64   `json:"size"`             // Price units
	Top       float64   `json:"top,omitempty"`    // Upper edge of the gap zone
	Bottom    float64   `json:"bottom,omitempty"` // Lower edge of the gap zone
	Index     int       `json:"index,omitempty"`  // Index of the third bar within the window
}

// FVG scans the last lookback bars for 3-bar gaps.
//   bullish: low[i] > high[i-2], zone [high[i-2], low[i]]
//   bearish: high[i] < low[i-2], zone [high[i], low[i-2]]
// A gap is filled once a later bar trades back through its far edge. The most
// recent unfilled gap is reported; DirectionNone if there is none.
func FVG(bars []market.Bar, lookback int) Gap {
	if lookback <= 0 || lookback > len(bars) {
		lookback = len(bars)
	}
	window := bars[len(bars)-lookback:]
	if len(window) < 3 {
		return Gap{Direction: DirectionNone}
	}

	// Newest first so the first unfilled hit wins
	for i := len(window) - 1; i >= 2; i-- {
		c1 := window[i-2]
		c3 := window[i]

		if c3.Low > c1.High {
			if !filledBullish(window[i+1:], c1.High) {
				return Gap{
					Direction: DirectionBullish,
					Size:      c3.Low - c1.High,
					Top:       c3.Low,
					Bottom:    c1.High,
					Index:     i,
				}
			}
			continue
		}

		if c3.High < c1.Low {
			if !filledBearish(window[i+1:], c1.Low) {
				return Gap{
					Direction: DirectionBearish,
					Size:      c1.Low - c3.High,
					Top:       c1.Low,
					Bottom:    c3.High,
					Index:     i,
				}
			}
		}
	}

	return Gap{Direction: DirectionNone}
}

func filledBullish(later []market.Bar, bottom float64) bool {
	for _, b := range later {
		if b.Low <= bottom {
			return true
		}
	}
	return false
}

func filledBearish(later []market.Bar, top float64) bool {
	for _, b := range later {
		if b.High >= top {
			return true
		}
	}
	return false
}
