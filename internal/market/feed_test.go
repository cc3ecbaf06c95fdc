package market

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// TestSyntheticFeedDeterministic verifies identical seeds give identical bars on every pass
func TestSyntheticFeedDeterministic(t *testing.T) {
	cfg := SyntheticConfig{Start: t0, Interval: time.Minute, Bars: 200, BasePrice: 50, Volatility: 0.01}
	a := NewSyntheticFeed("EURUSD", cfg, 42)
	b := NewSyntheticFeed("EURUSD", cfg, 42)

	first, err := Collect(a)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	again, _ := Collect(a)
	other, _ := Collect(b)

	if len(first) != 200 {
		t.Fatalf("Expected 200 bars, got %d", len(first))
	}
	for i := range first {
		if first[i] != again[i] || first[i] != other[i] {
			t.Fatalf("bar %d differs between passes", i)
		}
		if err := first[i].Validate(); err != nil {
			t.Errorf("bar %d invalid: %v", i, err)
		}
	}

	c, _ := Collect(NewSyntheticFeed("EURUSD", cfg, 43))
	if c[10] == first[10] {
		t.Error("Expected a different seed to produce different bars")
	}
}

// TestSyntheticFeedGaps verifies gap-flagged bars skip an interval
func TestSyntheticFeedGaps(t *testing.T) {
	cfg := SyntheticConfig{Start: t0, Interval: time.Minute, Bars: 10, GapEvery: 4}
	bars, err := Collect(NewSyntheticFeed("X", cfg, 1))
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if !bars[4].Gap || bars[3].Gap {
		t.Fatalf("Expected bar 4 to be gap-flagged")
	}
	if got := bars[4].Time.Sub(bars[3].Time); got != 2*time.Minute {
		t.Errorf("Expected 2m between bars 3 and 4, got %v", got)
	}
}

// TestOrderGuard verifies out-of-order and duplicate timestamps are rejected
func TestOrderGuard(t *testing.T) {
	var g OrderGuard
	if err := g.Check(Bar{Time: t0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.Check(Bar{Time: t0}); !errors.Is(err, ErrOutOfOrderBar) {
		t.Errorf("Expected ErrOutOfOrderBar for duplicate timestamp, got %v", err)
	}
	if err := g.Check(Bar{Time: t0.Add(-time.Minute)}); !errors.Is(err, ErrOutOfOrderBar) {
		t.Errorf("Expected ErrOutOfOrderBar for earlier timestamp, got %v", err)
	}
	if err := g.Check(Bar{Time: t0.Add(time.Minute)}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// TestCSVFeed verifies CSV parsing, restartability and range filtering
func TestCSVFeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bars.csv")
	data := "Timestamp,Open,High,Low,Close,Volume,Gap\n" +
		"2024-03-01T09:00:00Z,1,2,0.5,1.5,10,false\n" +
		"1709283660,1.5,2.5,1.0,2.0,11,\n" +
		"2024-03-01T09:02:00Z,2,3,1.5,2.5,12,true\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	feed := NewCSVFeed(FeedKey{Instrument: "X"}, path)
	bars, err := Collect(feed)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("Expected 3 bars, got %d", len(bars))
	}
	if !bars[1].Time.Equal(t0.Add(time.Minute)) {
		t.Errorf("Expected unix seconds to parse to %v, got %v", t0.Add(time.Minute), bars[1].Time)
	}
	if !bars[2].Gap {
		t.Error("Expected gap flag on third bar")
	}

	again, err := Collect(feed)
	if err != nil || len(again) != 3 {
		t.Fatalf("Expected restartable feed, got %d bars err=%v", len(again), err)
	}

	ranged := NewCSVFeed(FeedKey{Instrument: "X", From: t0.Add(time.Minute), To: t0.Add(time.Minute)}, path)
	bars, _ = Collect(ranged)
	if len(bars) != 1 || bars[0].Close != 2.0 {
		t.Errorf("Expected range filter to keep only the 09:01 bar, got %+v", bars)
	}
}

// TestCSVFeedBadOptionalColumns verifies malformed volume or gap cells fail the row
func TestCSVFeedBadOptionalColumns(t *testing.T) {
	tests := []struct {
		name string
		row  string
		want string
	}{
		{"bad gap", "2024-03-01T09:00:00Z,1,2,0.5,1.5,10,yes", "row 1: invalid gap"},
		{"bad volume", "2024-03-01T09:00:00Z,1,2,0.5,1.5,lots,false", "row 1: invalid volume"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bars.csv")
			data := "time,open,high,low,close,volume,gap\n" + tt.row + "\n"
			if err := os.WriteFile(path, []byte(data), 0644); err != nil {
				t.Fatal(err)
			}
			bars, err := Collect(NewCSVFeed(FeedKey{Instrument: "X"}, path))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Expected error containing %q, got %v", tt.want, err)
			}
			if len(bars) != 0 {
				t.Errorf("Expected no bars, got %d", len(bars))
			}
		})
	}
}

// TestInstrumentSeed verifies per-instrument seeds differ and are stable
func TestInstrumentSeed(t *testing.T) {
	a := InstrumentSeed(7, "EURUSD")
	if a != InstrumentSeed(7, "EURUSD") {
		t.Error("Expected stable seed")
	}
	if a == InstrumentSeed(7, "GBPUSD") {
		t.Error("Expected different instruments to get different seeds")
	}
}
