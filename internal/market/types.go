package market

import (
	"errors"
	"fmt"
	"hash/fnv"
	"time"
)

var (
	// ErrOutOfOrderBar is returned when a bar does not strictly follow the previous one in time
	ErrOutOfOrderBar = errors.New("bar timestamp is not after previous bar")
	// ErrInvalidBar is returned for bars whose OHLC values are inconsistent
	ErrInvalidBar = errors.New("invalid bar")
)

// Bar is one OHLC candle. Bars are values and are never mutated once produced.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume,omitempty"`
	Gap    bool      `json:"gap,omitempty"` // Feed had a hole before this bar
}

// Validate checks OHLC consistency
func (b Bar) Validate() error {
	if b.High < b.Low {
		return fmt.Errorf("%w: high %.5f below low %.5f", ErrInvalidBar, b.High, b.Low)
	}
	if b.Open > b.High || b.Open < b.Low || b.Close > b.High || b.Close < b.Low {
		return fmt.Errorf("%w: open/close outside high/low range at %s", ErrInvalidBar, b.Time.Format(time.RFC3339))
	}
	return nil
}

// Instrument describes the tradable unit a feed produces bars for
type Instrument struct {
	ID          string  `json:"id" yaml:"id"`
	PipSize     float64 `json:"pip_size" yaml:"pip_size"`         // Price value of one pip
	UnitStep    float64 `json:"unit_step" yaml:"unit_step"`       // Size granularity
	MinNotional float64 `json:"min_notional" yaml:"min_notional"` // Minimum size*price accepted
}

// ToPips converts a price distance to pips
func (i Instrument) ToPips(distance float64) float64 {
	if i.PipSize <= 0 {
		return distance
	}
	return distance / i.PipSize
}

// FromPips converts pips to a price distance
func (i Instrument) FromPips(pips float64) float64 {
	if i.PipSize <= 0 {
		return pips
	}
	return pips * i.PipSize
}

// OrderGuard enforces strictly increasing bar timestamps for one instrument
type OrderGuard struct {
	last  time.Time
	count int
}

// Check validates the next bar against the previous one
func (g *OrderGuard) Check(b Bar) error {
	if g.count > 0 && !b.Time.After(g.last) {
		return fmt.Errorf("%w: %s <= %s", ErrOutOfOrderBar,
			b.Time.UTC().Format(time.RFC3339), g.last.UTC().Format(time.RFC3339))
	}
	g.last = b.Time
	g.count++
	return nil
}

// InstrumentSeed derives the per-instrument random seed from a run seed
func InstrumentSeed(seed int64, instrumentID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(instrumentID))
	return seed ^ int64(h.Sum64())
}

// Side is the trade direction
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign returns +1 for long and -1 for short
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Opposite returns the other side
func (s Side) Opposite() Side {
	if s == SideShort {
		return SideLong
	}
	return SideShort
}
