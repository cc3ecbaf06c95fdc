package circuit

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"trade-signal-sim/internal/market"
)

// ErrGovernanceBlock wraps a block when callers want it as an error
var ErrGovernanceBlock = errors.New("governance block")

// BlockReason names the check that stopped an entry
type BlockReason string

const (
	BlockNone          BlockReason = ""
	BlockDailyRFloor   BlockReason = "daily_r_floor"
	BlockTradingWindow BlockReason = "trading_window"
	BlockMinDistance   BlockReason = "min_distance"
	BlockCooldown      BlockReason = "cooldown"
)

// AllBlockReasons returns the checks in evaluation order
func AllBlockReasons() []BlockReason {
	return []BlockReason{BlockDailyRFloor, BlockTradingWindow, BlockMinDistance, BlockCooldown}
}

// Config holds governance configuration
type Config struct {
	Enabled             bool          `json:"enabled" yaml:"enabled"`
	DailyRFloor         float64       `json:"daily_r_floor" yaml:"daily_r_floor"`                   // Entries stop once session R falls below this, 0 disables
	SessionResetHourUTC int           `json:"session_reset_hour_utc" yaml:"session_reset_hour_utc"` // Hour the session day rolls over
	WindowStartHourUTC  int           `json:"window_start_hour_utc" yaml:"window_start_hour_utc"`   // Equal start and end disables the window
	WindowEndHourUTC    int           `json:"window_end_hour_utc" yaml:"window_end_hour_utc"`
	MinReentryPips      float64       `json:"min_reentry_pips" yaml:"min_reentry_pips"`
	Cooldown            time.Duration `json:"cooldown" yaml:"cooldown"`
	CooldownBars        int           `json:"cooldown_bars" yaml:"cooldown_bars"`
}

// DefaultConfig returns safe defaults
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		DailyRFloor:    -3.0,
		MinReentryPips: 5,
		Cooldown:       15 * time.Minute,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.DailyRFloor > 0 {
		return fmt.Errorf("daily_r_floor must be zero or negative, got %.2f", c.DailyRFloor)
	}
	for name, h := range map[string]int{
		"session_reset_hour_utc": c.SessionResetHourUTC,
		"window_start_hour_utc":  c.WindowStartHourUTC,
		"window_end_hour_utc":    c.WindowEndHourUTC,
	} {
		if h < 0 || h > 23 {
			return fmt.Errorf("%s must be within 0..23, got %d", name, h)
		}
	}
	if c.MinReentryPips < 0 || c.Cooldown < 0 || c.CooldownBars < 0 {
		return fmt.Errorf("re-entry distance and cooldowns must not be negative")
	}
	return nil
}

// Block is the outcome of a governance check. The zero value allows the entry.
type Block struct {
	Reason BlockReason `json:"reason,omitempty"`
	Detail string      `json:"detail,omitempty"`
}

// Allowed reports whether no check fired
func (b Block) Allowed() bool { return b.Reason == BlockNone }

// Err returns the block as an error wrapping ErrGovernanceBlock, nil if allowed
func (b Block) Err() error {
	if b.Allowed() {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", ErrGovernanceBlock, b.Reason, b.Detail)
}

// DailyGovernanceState accumulates realized R for one session day
type DailyGovernanceState struct {
	Day         string  `json:"day"`
	CumulativeR float64 `json:"cumulative_r"`
	Trades      int     `json:"trades"`
	Losses      int     `json:"losses"`
}

// Governor gates entries for one instrument. Each instrument owns its own
// Governor; nothing is shared across instruments.
type Governor struct {
	config     Config
	instrument market.Instrument
	daily      DailyGovernanceState

	hasEntry       bool
	lastEntryPrice float64
	lastEntryTime  time.Time
	lastEntryIndex int

	logger zerolog.Logger
}

// NewGovernor creates a governor for one instrument
func NewGovernor(config Config, instrument market.Instrument, logger zerolog.Logger) *Governor {
	return &Governor{
		config:     config,
		instrument: instrument,
		logger: logger.With().
			Str("component", "governor").
			Str("instrument", instrument.ID).
			Logger(),
	}
}

// SessionDay returns the session key a timestamp belongs to
func (g *Governor) SessionDay(t time.Time) string {
	return t.UTC().Add(-time.Duration(g.config.SessionResetHourUTC) * time.Hour).Format("2006-01-02")
}

func (g *Governor) rollSession(t time.Time) {
	day := g.SessionDay(t)
	if g.daily.Day == day {
		return
	}
	if g.daily.Day != "" {
		g.logger.Debug().
			Str("day", g.daily.Day).
			Float64("cumulative_r", g.daily.CumulativeR).
			Int("trades", g.daily.Trades).
			Msg("Session reset")
	}
	g.daily = DailyGovernanceState{Day: day}
}

// Check runs the entry filters in order against a flat bar:
// daily R floor, trading window, minimum re-entry distance, cooldown.
func (g *Governor) Check(bar market.Bar, index int) Block {
	if !g.config.Enabled {
		return Block{}
	}
	g.rollSession(bar.Time)

	if g.config.DailyRFloor < 0 && g.daily.CumulativeR < g.config.DailyRFloor {
		return Block{
			Reason: BlockDailyRFloor,
			Detail: fmt.Sprintf("session R %.2f below floor %.2f", g.daily.CumulativeR, g.config.DailyRFloor),
		}
	}

	if !g.inWindow(bar.Time) {
		return Block{
			Reason: BlockTradingWindow,
			Detail: fmt.Sprintf("hour %02d outside %02d-%02d UTC", bar.Time.UTC().Hour(), g.config.WindowStartHourUTC, g.config.WindowEndHourUTC),
		}
	}

	if g.hasEntry && g.config.MinReentryPips > 0 {
		moved := g.instrument.ToPips(math.Abs(bar.Close - g.lastEntryPrice))
		if moved < g.config.MinReentryPips {
			return Block{
				Reason: BlockMinDistance,
				Detail: fmt.Sprintf("moved %.1f pips from last entry, need %.1f", moved, g.config.MinReentryPips),
			}
		}
	}

	if g.hasEntry {
		if elapsed := bar.Time.Sub(g.lastEntryTime); g.config.Cooldown > 0 && elapsed < g.config.Cooldown {
			return Block{
				Reason: BlockCooldown,
				Detail: fmt.Sprintf("%v since last entry, cooldown %v", elapsed, g.config.Cooldown),
			}
		}
		if bars := index - g.lastEntryIndex; g.config.CooldownBars > 0 && bars < g.config.CooldownBars {
			return Block{
				Reason: BlockCooldown,
				Detail: fmt.Sprintf("%d bars since last entry, cooldown %d", bars, g.config.CooldownBars),
			}
		}
	}

	return Block{}
}

func (g *Governor) inWindow(t time.Time) bool {
	start, end := g.config.WindowStartHourUTC, g.config.WindowEndHourUTC
	if start == end {
		return true
	}
	h := t.UTC().Hour()
	if start < end {
		return h >= start && h < end
	}
	// Window wraps midnight
	return h >= start || h < end
}

// RecordEntry notes a fill for distance and cooldown checks
func (g *Governor) RecordEntry(price float64, at time.Time, index int) {
	g.rollSession(at)
	g.hasEntry = true
	g.lastEntryPrice = price
	g.lastEntryTime = at
	g.lastEntryIndex = index
}

// RecordClose adds a realized R to the session of the close
func (g *Governor) RecordClose(r float64, at time.Time) {
	if math.IsNaN(r) || math.IsInf(r, 0) {
		g.logger.Warn().Float64("r", r).Msg("Ignoring invalid R multiple")
		return
	}
	g.rollSession(at)
	g.daily.CumulativeR += r
	g.daily.Trades++
	if r < 0 {
		g.daily.Losses++
	}
	if g.config.DailyRFloor < 0 && g.daily.CumulativeR < g.config.DailyRFloor {
		g.logger.Warn().
			Str("day", g.daily.Day).
			Float64("cumulative_r", g.daily.CumulativeR).
			Float64("floor", g.config.DailyRFloor).
			Msg("Daily R floor breached, entries halted for the session")
	}
}

// State returns the current session accumulator
func (g *Governor) State() DailyGovernanceState {
	return g.daily
}
