// Package execution owns open positions and resolves them bar by bar.
package execution

import (
	"errors"
	"time"

	"trade-signal-sim/internal/market"
	"trade-signal-sim/internal/orders"
)

// Errors returned by execution adapters
var (
	ErrDuplicatePosition = errors.New("position already open for instrument")
	ErrOcoIncomplete     = errors.New("bracket is missing its target leg")
	ErrNoPosition        = errors.New("no open position")
)

// BracketRequest is an entry with its protective stop and target
type BracketRequest struct {
	Side     market.Side
	Entry    float64
	Stop     float64
	Target   float64
	Size     float64
	Leverage float64
	Time     time.Time
	Index    int // Bar index of the fill
}

// PlaceResult reports what the venue actually accepted
type PlaceResult struct {
	Position   orders.Position
	OcoDropped bool
}

// Adjustment is a trailing stop move
type Adjustment struct {
	Old float64
	New float64
}

// StepResult is the outcome of advancing one bar
type StepResult struct {
	Closure    *orders.Closure
	Adjustment *Adjustment
}

// Adapter is the venue capability the replay driver trades through. A live
// broker and the simulator expose the same calls.
type Adapter interface {
	// PlaceBracket opens a position; ErrDuplicatePosition if one is open
	PlaceBracket(req BracketRequest) (PlaceResult, error)
	// Heal attaches a missing target leg
	Heal(target float64) error
	// Verify returns ErrOcoIncomplete while the open position lacks a target it should have
	Verify() error
	ArmTrailing(distance float64) error
	// Step advances the open position through one bar
	Step(bar market.Bar) (StepResult, error)
	// Cancel force-closes the open position at price
	Cancel(price float64, at time.Time) (orders.Closure, error)
	CurrentPrice() float64
	// Position returns a copy of the open position
	Position() (orders.Position, bool)
}
