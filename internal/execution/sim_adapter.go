package execution

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"trade-signal-sim/internal/market"
	"trade-signal-sim/internal/orders"
)

// SimConfig configures the simulated venue
type SimConfig struct {
	OcoDropProbability float64 `json:"oco_drop_probability" yaml:"oco_drop_probability"` // Chance the target leg is omitted on fill
}

// Validate checks the configuration
func (c SimConfig) Validate() error {
	if c.OcoDropProbability < 0 || c.OcoDropProbability > 1 {
		return fmt.Errorf("oco_drop_probability must be within [0,1], got %.3f", c.OcoDropProbability)
	}
	return nil
}

// SimAdapter is an in-memory venue for one instrument. It holds at most one
// position and is driven from a single goroutine.
type SimAdapter struct {
	instrument string
	cfg        SimConfig
	rng        *rand.Rand
	ids        *orders.TradeIDGenerator
	position   *orders.Position
	lastPrice  float64
	logger     zerolog.Logger
}

var _ Adapter = (*SimAdapter)(nil)

// NewSimAdapter creates a simulated venue. seed drives fault injection only.
func NewSimAdapter(instrument string, cfg SimConfig, seed int64, ids *orders.TradeIDGenerator, logger zerolog.Logger) *SimAdapter {
	return &SimAdapter{
		instrument: instrument,
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(seed)),
		ids:        ids,
		logger: logger.With().
			Str("component", "sim_adapter").
			Str("instrument", instrument).
			Logger(),
	}
}

// PlaceBracket fills a bracket at the requested entry. With the configured
// probability the target leg is dropped and the position opens without one.
func (s *SimAdapter) PlaceBracket(req BracketRequest) (PlaceResult, error) {
	if s.position != nil {
		return PlaceResult{}, fmt.Errorf("%w: %s holds %s", ErrDuplicatePosition, s.instrument, s.position.ID)
	}

	// One draw per placement keeps the fault sequence independent of outcomes
	dropped := s.rng.Float64() < s.cfg.OcoDropProbability

	var target *float64
	if !dropped {
		t := req.Target
		target = &t
	}

	pos, err := orders.NewPending(s.ids.Next(), s.instrument, req.Side, req.Size, req.Leverage, req.Entry, req.Stop, target)
	if err != nil {
		return PlaceResult{}, fmt.Errorf("failed to create position: %w", err)
	}
	if err := pos.Fill(req.Time, req.Index, dropped); err != nil {
		return PlaceResult{}, fmt.Errorf("failed to fill position: %w", err)
	}

	s.position = pos
	s.lastPrice = req.Entry

	ev := s.logger.Info()
	if dropped {
		ev = s.logger.Warn()
	}
	ev.Str("trade_id", pos.ID).
		Str("side", string(req.Side)).
		Float64("entry", req.Entry).
		Float64("stop", req.Stop).
		Float64("size", req.Size).
		Bool("oco_dropped", dropped).
		Msg("Bracket filled")

	return PlaceResult{Position: pos.Snapshot(), OcoDropped: dropped}, nil
}

// Heal attaches a target to a position whose target leg was dropped
func (s *SimAdapter) Heal(target float64) error {
	if s.position == nil {
		return ErrNoPosition
	}
	if err := s.position.AttachTarget(target); err != nil {
		return fmt.Errorf("failed to heal %s: %w", s.position.ID, err)
	}
	s.logger.Info().
		Str("trade_id", s.position.ID).
		Float64("target", target).
		Msg("Target leg restored")
	return nil
}

// Verify reports an open, non-trailing position without a target
func (s *SimAdapter) Verify() error {
	if s.position == nil {
		return nil
	}
	if s.position.State == orders.StateOpen && s.position.Target == nil {
		return fmt.Errorf("%w: %s", ErrOcoIncomplete, s.position.ID)
	}
	return nil
}

// ArmTrailing switches the open position to a ratcheting stop
func (s *SimAdapter) ArmTrailing(distance float64) error {
	if s.position == nil {
		return ErrNoPosition
	}
	if err := s.position.Arm(distance); err != nil {
		return fmt.Errorf("failed to arm trailing on %s: %w", s.position.ID, err)
	}
	return nil
}

// Step resolves exits against the levels in force at the bar's open, then
// ratchets a trailing stop for the next bar.
func (s *SimAdapter) Step(bar market.Bar) (StepResult, error) {
	s.lastPrice = bar.Close
	if s.position == nil {
		return StepResult{}, nil
	}

	if reason, price, hit := s.position.CheckExit(bar); hit {
		closure, err := s.position.Close(price, bar.Time, reason)
		if err != nil {
			return StepResult{}, err
		}
		s.position = nil
		s.logger.Info().
			Str("trade_id", closure.PositionID).
			Str("reason", string(reason)).
			Float64("exit", price).
			Float64("r", closure.R).
			Msg("Position closed")
		return StepResult{Closure: &closure}, nil
	}

	old, moved := s.position.Ratchet(bar)
	if moved {
		return StepResult{Adjustment: &Adjustment{Old: old, New: s.position.Stop}}, nil
	}
	return StepResult{}, nil
}

// Cancel force-closes the open position
func (s *SimAdapter) Cancel(price float64, at time.Time) (orders.Closure, error) {
	if s.position == nil {
		return orders.Closure{}, ErrNoPosition
	}
	closure, err := s.position.Close(price, at, orders.ExitForced)
	if err != nil {
		return orders.Closure{}, err
	}
	s.position = nil
	s.lastPrice = price
	return closure, nil
}

// CurrentPrice is the last close seen
func (s *SimAdapter) CurrentPrice() float64 {
	return s.lastPrice
}

// Position returns a copy of the open position
func (s *SimAdapter) Position() (orders.Position, bool) {
	if s.position == nil {
		return orders.Position{}, false
	}
	return s.position.Snapshot(), true
}
