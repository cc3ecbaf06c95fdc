// Package orders models one bracketed position and its lifecycle.
package orders

import "errors"

// State of a bracketed position
type State string

const (
	StatePendingEntry  State = "pending_entry"
	StateOpen          State = "open"
	StateTrailingArmed State = "trailing_armed"
	StateClosed        State = "closed"
)

// ExitReason explains why a position closed
type ExitReason string

const (
	ExitTargetHit ExitReason = "TP_HIT"
	ExitStopHit   ExitReason = "SL_HIT"
	ExitForced    ExitReason = "FORCED" // End of data or explicit cancel
)

// AllExitReasons returns every exit reason in reporting order
func AllExitReasons() []ExitReason {
	return []ExitReason{ExitTargetHit, ExitStopHit, ExitForced}
}

// Errors for position transitions
var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrMissingStop       = errors.New("position has no protective stop")
	ErrMissingTarget     = errors.New("position has no target")
	ErrTargetPresent     = errors.New("position already has a target")
	ErrTrailingArmed     = errors.New("trailing stop already armed")
	ErrInvalidDistance   = errors.New("trailing distance must be positive")
	ErrInvalidBracket    = errors.New("invalid bracket")
)
