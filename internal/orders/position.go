package orders

import (
	"fmt"
	"math"
	"time"

	"trade-signal-sim/internal/market"
)

// Position is one bracketed position. Fields are exported for reading; all
// writes go through the transition methods.
type Position struct {
	ID               string      `json:"id"`
	Instrument       string      `json:"instrument"`
	Side             market.Side `json:"side"`
	Size             float64     `json:"size"`
	Leverage         float64     `json:"leverage"`
	Entry            float64     `json:"entry"`
	Stop             float64     `json:"stop"`
	InitialStop      float64     `json:"initial_stop"`
	Target           *float64    `json:"target,omitempty"`
	TrailingDistance float64     `json:"trailing_distance,omitempty"`
	State            State       `json:"state"`
	OpenedAt         time.Time   `json:"opened_at"`
	OpenedIndex      int         `json:"opened_index"`
	HighWater        float64     `json:"high_water"`
	LowWater         float64     `json:"low_water"`
	OcoDropped       bool        `json:"oco_dropped,omitempty"`
}

// Closure is the record of a finished position
type Closure struct {
	PositionID  string      `json:"position_id"`
	Instrument  string      `json:"instrument"`
	Side        market.Side `json:"side"`
	Size        float64     `json:"size"`
	Entry       float64     `json:"entry"`
	InitialStop float64     `json:"initial_stop"`
	Exit        float64     `json:"exit"`
	Reason      ExitReason  `json:"reason"`
	R           float64     `json:"r"`
	PnL         float64     `json:"pnl"`
	OpenedAt    time.Time   `json:"opened_at"`
	ClosedAt    time.Time   `json:"closed_at"`
}

// NewPending creates a position awaiting its entry fill. target may be nil
// when the venue dropped the target leg.
func NewPending(id, instrument string, side market.Side, size, leverage, entry, stop float64, target *float64) (*Position, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %.8f", ErrInvalidBracket, size)
	}
	if entry <= 0 {
		return nil, fmt.Errorf("%w: entry %.5f", ErrInvalidBracket, entry)
	}
	if stop <= 0 {
		return nil, ErrMissingStop
	}
	if (stop-entry)*side.Sign() >= 0 {
		return nil, fmt.Errorf("%w: %s stop %.5f on wrong side of entry %.5f", ErrInvalidBracket, side, stop, entry)
	}
	if target != nil && (*target-entry)*side.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s target %.5f on wrong side of entry %.5f", ErrInvalidBracket, side, *target, entry)
	}

	p := &Position{
		ID:          id,
		Instrument:  instrument,
		Side:        side,
		Size:        size,
		Leverage:    leverage,
		Entry:       entry,
		Stop:        stop,
		InitialStop: stop,
		State:       StatePendingEntry,
		HighWater:   entry,
		LowWater:    entry,
	}
	if target != nil {
		t := *target
		p.Target = &t
	}
	return p, nil
}

// Fill moves PendingEntry to Open. A missing target is only accepted when the
// caller acknowledges the bracket is incomplete and will be healed.
func (p *Position) Fill(at time.Time, index int, acceptMissingTarget bool) error {
	if p.State != StatePendingEntry {
		return fmt.Errorf("%w: fill from %s", ErrInvalidTransition, p.State)
	}
	if p.Stop <= 0 {
		return ErrMissingStop
	}
	if p.Target == nil {
		if !acceptMissingTarget {
			return ErrMissingTarget
		}
		p.OcoDropped = true
	}
	p.State = StateOpen
	p.OpenedAt = at
	p.OpenedIndex = index
	return nil
}

// IsActive reports whether the position is filled and not closed
func (p *Position) IsActive() bool {
	return p.State == StateOpen || p.State == StateTrailingArmed
}

// RiskPerUnit is the initial stop distance
func (p *Position) RiskPerUnit() float64 {
	return math.Abs(p.Entry - p.InitialStop)
}

// UnrealizedR is the open profit at price in multiples of initial risk
func (p *Position) UnrealizedR(price float64) float64 {
	risk := p.RiskPerUnit()
	if risk == 0 {
		return 0
	}
	return (price - p.Entry) * p.Side.Sign() / risk
}

// AttachTarget heals a missing target leg
func (p *Position) AttachTarget(target float64) error {
	switch {
	case p.State == StateTrailingArmed:
		return ErrTrailingArmed
	case p.State != StateOpen:
		return fmt.Errorf("%w: attach target in %s", ErrInvalidTransition, p.State)
	case p.Target != nil:
		return ErrTargetPresent
	case (target-p.Entry)*p.Side.Sign() <= 0:
		return fmt.Errorf("%w: target %.5f on wrong side of entry %.5f", ErrInvalidBracket, target, p.Entry)
	}
	p.Target = &target
	return nil
}

// Arm moves Open to TrailingArmed. The target is removed and the distance
// is fixed for the rest of the position's life.
func (p *Position) Arm(distance float64) error {
	if p.State == StateTrailingArmed {
		return ErrTrailingArmed
	}
	if p.State != StateOpen {
		return fmt.Errorf("%w: arm from %s", ErrInvalidTransition, p.State)
	}
	if distance <= 0 || math.IsNaN(distance) {
		return ErrInvalidDistance
	}
	p.State = StateTrailingArmed
	p.TrailingDistance = distance
	p.Target = nil
	return nil
}

// CheckExit evaluates the bar against the stop and target as they stood at
// the bar's open. When both are touched the stop wins. A bar that opens
// beyond a level fills at the open.
func (p *Position) CheckExit(bar market.Bar) (ExitReason, float64, bool) {
	if !p.IsActive() {
		return "", 0, false
	}

	var stopHit, targetHit bool
	if p.Side == market.SideLong {
		stopHit = bar.Low <= p.Stop
		targetHit = p.Target != nil && bar.High >= *p.Target
	} else {
		stopHit = bar.High >= p.Stop
		targetHit = p.Target != nil && bar.Low <= *p.Target
	}

	if stopHit {
		price := p.Stop
		if (p.Stop-bar.Open)*p.Side.Sign() > 0 {
			price = bar.Open
		}
		return ExitStopHit, price, true
	}
	if targetHit {
		// Limit leg: never filled better than the target
		return ExitTargetHit, *p.Target, true
	}
	return "", 0, false
}

// Ratchet trails the stop behind the bar's extreme. The stop only ever
// tightens. Returns the previous stop and whether it moved.
func (p *Position) Ratchet(bar market.Bar) (float64, bool) {
	if bar.High > p.HighWater {
		p.HighWater = bar.High
	}
	if bar.Low < p.LowWater {
		p.LowWater = bar.Low
	}
	if p.State != StateTrailingArmed {
		return p.Stop, false
	}

	old := p.Stop
	if p.Side == market.SideLong {
		if candidate := p.HighWater - p.TrailingDistance; candidate > p.Stop {
			p.Stop = candidate
		}
	} else {
		if candidate := p.LowWater + p.TrailingDistance; candidate < p.Stop {
			p.Stop = candidate
		}
	}
	return old, p.Stop != old
}

// Close finalises the position at price
func (p *Position) Close(price float64, at time.Time, reason ExitReason) (Closure, error) {
	if !p.IsActive() {
		return Closure{}, fmt.Errorf("%w: close from %s", ErrInvalidTransition, p.State)
	}
	p.State = StateClosed

	return Closure{
		PositionID:  p.ID,
		Instrument:  p.Instrument,
		Side:        p.Side,
		Size:        p.Size,
		Entry:       p.Entry,
		InitialStop: p.InitialStop,
		Exit:        price,
		Reason:      reason,
		R:           p.UnrealizedR(price),
		PnL:         (price - p.Entry) * p.Side.Sign() * p.Size,
		OpenedAt:    p.OpenedAt,
		ClosedAt:    at,
	}, nil
}

// Snapshot returns a deep copy safe to hand to other components
func (p *Position) Snapshot() Position {
	cp := *p
	if p.Target != nil {
		t := *p.Target
		cp.Target = &t
	}
	return cp
}
