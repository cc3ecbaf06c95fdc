package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"trade-signal-sim/internal/market"
)

var day1 = time.Date(2024, 2, 5, 10, 0, 0, 0, time.UTC)

func newGovernor(cfg Config) *Governor {
	return NewGovernor(cfg, market.Instrument{ID: "TEST", PipSize: 1}, zerolog.Nop())
}

func barAt(t time.Time, close float64) market.Bar {
	return market.Bar{Time: t, Open: close, High: close, Low: close, Close: close}
}

// TestDailyRFloor verifies losses down to the floor halt entries until the next session
func TestDailyRFloor(t *testing.T) {
	g := newGovernor(Config{Enabled: true, DailyRFloor: -2.5})

	for i := 0; i < 3; i++ {
		if b := g.Check(barAt(day1.Add(time.Duration(i)*time.Hour), 100), i); !b.Allowed() {
			t.Fatalf("trade %d unexpectedly blocked: %+v", i, b)
		}
		g.RecordClose(-1, day1.Add(time.Duration(i)*time.Hour+30*time.Minute))
	}

	if st := g.State(); st.CumulativeR != -3 || st.Losses != 3 {
		t.Fatalf("Expected -3R over 3 losses, got %+v", st)
	}
	for i := 3; i < 8; i++ {
		b := g.Check(barAt(day1.Add(time.Duration(i)*time.Hour), 100), i)
		if b.Reason != BlockDailyRFloor {
			t.Fatalf("Expected daily floor block at hour %d, got %+v", i, b)
		}
		if !errors.Is(b.Err(), ErrGovernanceBlock) {
			t.Errorf("Expected ErrGovernanceBlock, got %v", b.Err())
		}
	}

	next := day1.Add(24 * time.Hour)
	if b := g.Check(barAt(next, 100), 100); !b.Allowed() {
		t.Errorf("Expected new session to allow entries, got %+v", b)
	}
	if st := g.State(); st.CumulativeR != 0 || st.Day != "2024-02-06" {
		t.Errorf("Expected reset state for 2024-02-06, got %+v", st)
	}
}

// TestDailyRFloorStrict verifies landing exactly on the floor still allows entries
func TestDailyRFloorStrict(t *testing.T) {
	g := newGovernor(Config{Enabled: true, DailyRFloor: -3})
	for i := 0; i < 3; i++ {
		g.RecordClose(-1, day1.Add(time.Duration(i)*time.Hour))
	}
	if b := g.Check(barAt(day1.Add(4*time.Hour), 100), 4); !b.Allowed() {
		t.Fatalf("Expected entries allowed at -3R on a -3 floor, got %+v", b)
	}

	g.RecordClose(-0.5, day1.Add(5*time.Hour))
	if b := g.Check(barAt(day1.Add(6*time.Hour), 100), 6); b.Reason != BlockDailyRFloor {
		t.Errorf("Expected daily floor block at -3.5R, got %+v", b)
	}
}

// TestSessionResetHour verifies the session boundary honours the reset hour
func TestSessionResetHour(t *testing.T) {
	g := newGovernor(Config{Enabled: true, SessionResetHourUTC: 22})
	if got := g.SessionDay(time.Date(2024, 2, 5, 21, 59, 0, 0, time.UTC)); got != "2024-02-04" {
		t.Errorf("Expected 2024-02-04, got %s", got)
	}
	if got := g.SessionDay(time.Date(2024, 2, 5, 22, 0, 0, 0, time.UTC)); got != "2024-02-05" {
		t.Errorf("Expected 2024-02-05, got %s", got)
	}
}

// TestTradingWindow verifies plain and wrapping windows
func TestTradingWindow(t *testing.T) {
	tests := []struct {
		name       string
		start, end int
		hour       int
		allowed    bool
	}{
		{"disabled", 0, 0, 3, true},
		{"inside", 7, 16, 7, true},
		{"end exclusive", 7, 16, 16, false},
		{"before", 7, 16, 6, false},
		{"wrap late", 22, 6, 23, true},
		{"wrap early", 22, 6, 5, true},
		{"wrap outside", 22, 6, 12, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGovernor(Config{Enabled: true, WindowStartHourUTC: tt.start, WindowEndHourUTC: tt.end})
			at := time.Date(2024, 2, 5, tt.hour, 30, 0, 0, time.UTC)
			b := g.Check(barAt(at, 100), 0)
			if b.Allowed() != tt.allowed {
				t.Errorf("Expected allowed=%v, got %+v", tt.allowed, b)
			}
			if !tt.allowed && b.Reason != BlockTradingWindow {
				t.Errorf("Expected trading_window, got %s", b.Reason)
			}
		})
	}
}

// TestMinDistance verifies re-entry needs the configured move from the last fill
func TestMinDistance(t *testing.T) {
	g := newGovernor(Config{Enabled: true, MinReentryPips: 5})
	g.RecordEntry(100, day1, 0)

	if b := g.Check(barAt(day1.Add(time.Hour), 103), 60); b.Reason != BlockMinDistance {
		t.Errorf("Expected min_distance block, got %+v", b)
	}
	if b := g.Check(barAt(day1.Add(time.Hour), 95), 60); !b.Allowed() {
		t.Errorf("Expected 5 pip move to pass, got %+v", b)
	}
}

// TestCooldown verifies time and bar cooldowns
func TestCooldown(t *testing.T) {
	g := newGovernor(Config{Enabled: true, Cooldown: 10 * time.Minute})
	g.RecordEntry(100, day1, 0)

	if b := g.Check(barAt(day1.Add(9*time.Minute), 120), 9); b.Reason != BlockCooldown {
		t.Errorf("Expected cooldown block at 9m, got %+v", b)
	}
	if b := g.Check(barAt(day1.Add(10*time.Minute), 120), 10); !b.Allowed() {
		t.Errorf("Expected entry allowed at exactly the cooldown, got %+v", b)
	}

	bars := newGovernor(Config{Enabled: true, CooldownBars: 3})
	bars.RecordEntry(100, day1, 5)
	if b := bars.Check(barAt(day1.Add(time.Hour), 120), 7); b.Reason != BlockCooldown {
		t.Errorf("Expected bar cooldown block, got %+v", b)
	}
	if b := bars.Check(barAt(day1.Add(time.Hour), 120), 8); !b.Allowed() {
		t.Errorf("Expected entry after 3 bars, got %+v", b)
	}
}

// TestCheckOrder verifies the daily floor is reported before later checks
func TestCheckOrder(t *testing.T) {
	g := newGovernor(Config{
		Enabled:            true,
		DailyRFloor:        -1,
		WindowStartHourUTC: 0,
		WindowEndHourUTC:   1,
		Cooldown:           time.Hour,
	})
	g.RecordEntry(100, day1, 0)
	g.RecordClose(-1.5, day1)

	if b := g.Check(barAt(day1.Add(time.Minute), 100), 1); b.Reason != BlockDailyRFloor {
		t.Errorf("Expected daily_r_floor first, got %s", b.Reason)
	}
}

// TestDisabled verifies a disabled governor allows everything
func TestDisabled(t *testing.T) {
	g := newGovernor(Config{Enabled: false, DailyRFloor: -1, Cooldown: time.Hour})
	g.RecordEntry(100, day1, 0)
	g.RecordClose(-5, day1)
	if b := g.Check(barAt(day1, 100), 0); !b.Allowed() {
		t.Errorf("Expected disabled governor to allow, got %+v", b)
	}
}
