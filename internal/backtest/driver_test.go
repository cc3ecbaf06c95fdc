package backtest

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"trade-signal-sim/internal/circuit"
	"trade-signal-sim/internal/events"
	"trade-signal-sim/internal/execution"
	"trade-signal-sim/internal/indicators"
	"trade-signal-sim/internal/market"
	"trade-signal-sim/internal/orders"
	"trade-signal-sim/internal/risk"
	"trade-signal-sim/internal/signal"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

var testInstrument = market.Instrument{ID: "TEST", PipSize: 1, UnitStep: 1}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func bar(i int, o, h, l, c float64) market.Bar {
	return market.Bar{Time: t0.Add(time.Duration(i) * time.Minute), Open: o, High: h, Low: l, Close: c}
}

func baseConfig() DriverConfig {
	return DriverConfig{
		Indicators: indicators.Params{ATRPeriod: 2, FastPeriod: 2, SlowPeriod: 3, ZPeriod: 3, FVGLookback: 3},
		Risk: risk.Config{
			RiskPerTrade:  0.01,
			ATRMultiplier: 1,
			MinStopPips:   10,
			RewardRisk:    1.2,
			MinRewardRisk: 1.2,
			BaseLeverage:  1,
			MaxLeverage:   1,
		},
		HealDelayBars: 1,
		InitialEquity: 10000,
	}
}

func aggregator() *signal.Aggregator {
	cfg := signal.DefaultConfig()
	cfg.MomentumScale = 0.01
	return signal.NewAggregator(cfg, nil, zerolog.Nop())
}

func newDriver(t *testing.T, cfg DriverConfig, src SignalSource, prob float64) (*Driver, *events.Log) {
	t.Helper()
	ids, err := orders.NewTradeIDGenerator("seed-7", testInstrument.ID)
	if err != nil {
		t.Fatal(err)
	}
	adapter := execution.NewSimAdapter(testInstrument.ID, execution.SimConfig{OcoDropProbability: prob}, 7, ids, zerolog.Nop())
	log := events.NewLog(testInstrument.ID, nil)
	return NewDriver(testInstrument, cfg, src, adapter, log, zerolog.Nop()), log
}

func runBars(t *testing.T, d *Driver, bars []market.Bar) {
	t.Helper()
	if err := d.Run(market.NewSliceFeed(market.FeedKey{Instrument: testInstrument.ID}, bars)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

func kinds(evs []events.TradeEvent) []events.Kind {
	out := make([]events.Kind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

func expectKinds(t *testing.T, evs []events.TradeEvent, want ...events.Kind) {
	t.Helper()
	got := kinds(evs)
	if len(got) != len(want) {
		t.Fatalf("Expected kinds %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected kinds %v, got %v", want, got)
		}
	}
}

// The three bars that produce a bullish gap of 1 with ATR 10
func setupBars() []market.Bar {
	return []market.Bar{
		bar(0, 100, 105, 95, 100),
		bar(1, 100, 108, 98, 106),
		bar(2, 106, 116, 106, 112),
	}
}

// TestDriverBullishEntryThenStop verifies a warmed-up bullish setup enters at
// the close and a double-touch bar exits at the stop
func TestDriverBullishEntryThenStop(t *testing.T) {
	d, log := newDriver(t, baseConfig(), aggregator(), 0)
	bars := append(setupBars(), bar(3, 112, 125, 101, 110))
	runBars(t, d, bars)

	evs := log.Events()
	expectKinds(t, evs, events.KindSkip, events.KindSkip, events.KindSignalEntry, events.KindClose)

	entry := evs[2]
	if entry.Side != market.SideLong || entry.Entry != 112 || entry.Stop != 102 {
		t.Errorf("Expected long at 112 stop 102, got %+v", entry)
	}
	if entry.Target == nil || *entry.Target != 124 {
		t.Errorf("Expected target 124, got %v", entry.Target)
	}
	if entry.Size != 10 {
		t.Errorf("Expected size 10, got %f", entry.Size)
	}
	if want := 0.5*0.4 + 0.3 + 0.2/3; !approx(entry.Confidence, want) {
		t.Errorf("Expected confidence %f, got %f", want, entry.Confidence)
	}
	if !entry.Time.Equal(bars[2].Time) {
		t.Errorf("Expected entry stamped with bar time, got %v", entry.Time)
	}

	closed := evs[3]
	if closed.Reason != string(orders.ExitStopHit) || closed.Price != 102 {
		t.Errorf("Expected SL_HIT at 102, got %s at %f", closed.Reason, closed.Price)
	}
	if closed.R == nil || !approx(*closed.R, -1) {
		t.Errorf("Expected R -1, got %v", closed.R)
	}
	if closed.TradeID == "" || closed.TradeID != entry.TradeID {
		t.Errorf("Expected close to carry trade %s, got %s", entry.TradeID, closed.TradeID)
	}
	if !approx(d.Equity(), 9900) || !approx(closed.Equity, 9900) {
		t.Errorf("Expected equity 9900, got %f", d.Equity())
	}
}

// TestDriverTrailing verifies trailing arms at +1R, ratchets and exits at the trailed stop
func TestDriverTrailing(t *testing.T) {
	cfg := baseConfig()
	cfg.Trailing = risk.TrailingConfig{Enabled: true, ActivationR: 1, ATRMultiplier: 1}
	d, log := newDriver(t, cfg, aggregator(), 0)

	bars := append(setupBars(),
		bar(3, 112, 123, 111, 122), // +1R at the close, ATR 11
		bar(4, 122, 130, 121, 128), // high water 130, stop 119
		bar(5, 128, 129, 118, 120), // trailed stop hit
	)
	runBars(t, d, bars)

	evs := log.Events()
	expectKinds(t, evs,
		events.KindSkip, events.KindSkip, events.KindSignalEntry,
		events.KindTrailOn, events.KindTrailAdj, events.KindClose)

	on := evs[3]
	if !approx(on.Distance, 11) || on.Stop != 102 {
		t.Errorf("Expected trail_on distance 11 from stop 102, got %+v", on)
	}
	adj := evs[4]
	if adj.PrevStop != 102 || !approx(adj.Stop, 119) {
		t.Errorf("Expected stop 102 -> 119, got %f -> %f", adj.PrevStop, adj.Stop)
	}
	if adj.Stop < adj.PrevStop {
		t.Error("Trailing stop moved against the position")
	}
	closed := evs[5]
	if closed.Reason != string(orders.ExitStopHit) || !approx(closed.Price, 119) {
		t.Errorf("Expected SL_HIT at 119, got %s at %f", closed.Reason, closed.Price)
	}
	if closed.R == nil || !approx(*closed.R, 0.7) {
		t.Errorf("Expected R 0.7, got %v", closed.R)
	}
}

// TestDriverOcoHeal verifies a dropped target is reported and restored after the delay
func TestDriverOcoHeal(t *testing.T) {
	d, log := newDriver(t, baseConfig(), aggregator(), 1.0)
	bars := append(setupBars(),
		bar(3, 112, 118, 108, 116),
		bar(4, 116, 126, 115, 125),
	)
	runBars(t, d, bars)

	evs := log.Events()
	expectKinds(t, evs,
		events.KindSkip, events.KindSkip, events.KindSignalEntry,
		events.KindOcoDropped, events.KindFixOco, events.KindClose)

	if !evs[2].OcoDropped || evs[2].Target != nil {
		t.Errorf("Expected entry without target, got %+v", evs[2])
	}
	fix := evs[4]
	if fix.Target == nil || *fix.Target != 124 || !fix.Time.Equal(bars[3].Time) {
		t.Errorf("Expected target 124 restored on the next bar, got %+v", fix)
	}
	if evs[5].Reason != string(orders.ExitTargetHit) || evs[5].Price != 124 {
		t.Errorf("Expected TP_HIT at 124, got %s at %f", evs[5].Reason, evs[5].Price)
	}
}

// TestDriverHealDisabled verifies a negative heal delay leaves the target
// missing until the end-of-feed force close
func TestDriverHealDisabled(t *testing.T) {
	cfg := baseConfig()
	cfg.HealDelayBars = -1
	d, log := newDriver(t, cfg, aggregator(), 1.0)
	bars := append(setupBars(),
		bar(3, 112, 118, 108, 116),
		bar(4, 116, 126, 115, 125),
	)
	runBars(t, d, bars)

	evs := log.Events()
	expectKinds(t, evs,
		events.KindSkip, events.KindSkip, events.KindSignalEntry,
		events.KindOcoDropped, events.KindClose)

	closed := evs[4]
	if closed.Reason != string(orders.ExitForced) || closed.Price != 125 {
		t.Errorf("Expected FORCED at 125, got %s at %f", closed.Reason, closed.Price)
	}
	if closed.R == nil || !approx(*closed.R, 1.3) {
		t.Errorf("Expected R 1.3, got %v", closed.R)
	}
}

// scriptedSource emits a fixed long signal on chosen bar times
type scriptedSource map[time.Time]bool

func (s scriptedSource) Evaluate(snap indicators.Snapshot, hasPosition bool) *signal.Signal {
	if !s[snap.Time] {
		return nil
	}
	return &signal.Signal{Side: market.SideLong, Confidence: 0.6}
}

func flat(at time.Time) market.Bar {
	return market.Bar{Time: at, Open: 100, High: 101, Low: 99, Close: 100}
}

func crash(at time.Time) market.Bar {
	return market.Bar{Time: at, Open: 100, High: 100, Low: 89, Close: 90}
}

func governedConfig(gov circuit.Config) DriverConfig {
	cfg := baseConfig()
	cfg.Indicators = indicators.Params{ATRPeriod: 1, FastPeriod: 1, SlowPeriod: 2, ZPeriod: 2, FVGLookback: 3}
	gov.Enabled = true
	cfg.Governance = gov
	return cfg
}

// TestDriverDailyRFloor verifies entries halt after three losing trades and
// resume in the next session
func TestDriverDailyRFloor(t *testing.T) {
	at := func(i int) time.Time { return t0.Add(time.Duration(i) * time.Minute) }
	nextDay := t0.Add(24 * time.Hour)

	src := scriptedSource{at(1): true, at(3): true, at(5): true, at(7): true, nextDay: true}
	d, log := newDriver(t, governedConfig(circuit.Config{DailyRFloor: -2.5}), src, 0)

	bars := []market.Bar{
		flat(at(0)), flat(at(1)), crash(at(2)),
		flat(at(3)), crash(at(4)),
		flat(at(5)), crash(at(6)),
		flat(at(7)),
		flat(nextDay),
	}
	runBars(t, d, bars)

	evs := log.Events()
	closes := events.Filter(evs, events.KindClose)
	if len(closes) != 4 {
		t.Fatalf("Expected 4 closes, got %d: %v", len(closes), kinds(evs))
	}
	for _, c := range closes[:3] {
		if c.Reason != string(orders.ExitStopHit) || !approx(*c.R, -1) {
			t.Errorf("Expected -1R stop, got %s %f", c.Reason, *c.R)
		}
	}

	blocked := events.Filter(evs, events.KindBlocked)
	if len(blocked) != 2 {
		t.Fatalf("Expected 2 blocked events, got %d", len(blocked))
	}
	for _, b := range blocked {
		if b.Reason != string(circuit.BlockDailyRFloor) {
			t.Errorf("Expected daily_r_floor, got %s", b.Reason)
		}
	}
	if !blocked[1].Time.Equal(at(7)) {
		t.Errorf("Expected the signal bar to be blocked, got %v", blocked[1].Time)
	}

	entries := events.Filter(evs, events.KindSignalEntry)
	if len(entries) != 4 || !entries[3].Time.Equal(nextDay) {
		t.Errorf("Expected a fresh entry in the next session, got %d entries", len(entries))
	}
	if closes[3].Reason != string(orders.ExitForced) {
		t.Errorf("Expected last position force closed, got %s", closes[3].Reason)
	}
}

// TestDriverCooldown verifies no two entries are closer than the cooldown
func TestDriverCooldown(t *testing.T) {
	at := func(m int) time.Time { return t0.Add(time.Duration(m) * time.Minute) }

	src := scriptedSource{at(1): true, at(3): true, at(12): true}
	d, log := newDriver(t, governedConfig(circuit.Config{Cooldown: 10 * time.Minute}), src, 0)

	bars := []market.Bar{flat(at(0)), flat(at(1)), crash(at(2)), flat(at(3)), flat(at(12))}
	runBars(t, d, bars)

	evs := log.Events()
	blocked := events.Filter(evs, events.KindBlocked)
	if len(blocked) != 2 {
		t.Fatalf("Expected 2 blocked events, got %v", kinds(evs))
	}
	for _, b := range blocked {
		if b.Reason != string(circuit.BlockCooldown) {
			t.Errorf("Expected cooldown, got %s", b.Reason)
		}
	}

	entries := events.Filter(evs, events.KindSignalEntry)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if gap := entries[1].Time.Sub(entries[0].Time); gap < 10*time.Minute {
		t.Errorf("Entries %v apart, inside the cooldown", gap)
	}
}

// TestDriverOutOfOrderIsFatal verifies a backwards bar aborts the replay with a fatal event
func TestDriverOutOfOrderIsFatal(t *testing.T) {
	d, log := newDriver(t, baseConfig(), aggregator(), 0)
	bars := []market.Bar{bar(1, 100, 101, 99, 100), bar(0, 100, 101, 99, 100)}

	err := d.Run(market.NewSliceFeed(market.FeedKey{Instrument: testInstrument.ID}, bars))
	if !errors.Is(err, market.ErrOutOfOrderBar) {
		t.Fatalf("Expected ErrOutOfOrderBar, got %v", err)
	}
	evs := log.Events()
	if last := evs[len(evs)-1]; last.Kind != events.KindFatal || last.Detail == "" {
		t.Errorf("Expected trailing fatal event, got %+v", last)
	}
}

// TestDriverGapEvent verifies flagged bars are recorded
func TestDriverGapEvent(t *testing.T) {
	d, log := newDriver(t, baseConfig(), aggregator(), 0)
	b := bar(0, 100, 101, 99, 100)
	b.Gap = true
	if err := d.ProcessBar(b); err != nil {
		t.Fatalf("ProcessBar failed: %v", err)
	}
	if log.Count(events.KindGap) != 1 {
		t.Errorf("Expected one gap event, got %v", kinds(log.Events()))
	}
}

// TestDriverRiskRejected verifies a sub-notional size is logged and skipped
func TestDriverRiskRejected(t *testing.T) {
	cfg := baseConfig()
	d, log := newDriver(t, cfg, aggregator(), 0)
	d.instrument.MinNotional = 1e9
	d.sizer = risk.NewSizer(cfg.Risk, d.instrument, zerolog.Nop())

	runBars(t, d, setupBars())

	evs := log.Events()
	expectKinds(t, evs, events.KindSkip, events.KindSkip, events.KindRiskRejected)
	if evs[2].Detail == "" || evs[2].Side != market.SideLong {
		t.Errorf("Expected rejection detail, got %+v", evs[2])
	}
}
