package backtest

import (
	"errors"
	"fmt"

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

// SkipInsufficientHistory is the reason recorded while indicators warm up
const SkipInsufficientHistory = "insufficient_history"

// SignalSource turns a snapshot into an optional signal. *signal.Aggregator
// is the production implementation.
type SignalSource interface {
	Evaluate(snap indicators.Snapshot, hasPosition bool) *signal.Signal
}

// DriverConfig holds everything one instrument's replay needs
type DriverConfig struct {
	Indicators    indicators.Params   `json:"indicators" yaml:"indicators"`
	Risk          risk.Config         `json:"risk" yaml:"risk"`
	Trailing      risk.TrailingConfig `json:"trailing" yaml:"trailing"`
	Governance    circuit.Config      `json:"governance" yaml:"governance"`
	HealDelayBars int                 `json:"heal_delay_bars" yaml:"heal_delay_bars"` // Bars before a dropped target is restored, negative disables
	InitialEquity float64             `json:"initial_equity" yaml:"initial_equity"`
}

// Driver replays bars for one instrument through governance, indicators,
// signal, sizing and the execution adapter. It is not safe for concurrent
// use; each instrument gets its own Driver.
type Driver struct {
	instrument market.Instrument
	cfg        DriverConfig
	signals    SignalSource
	sizer      *risk.Sizer
	trailing   *risk.TrailingPolicy
	governor   *circuit.Governor
	adapter    execution.Adapter
	log        *events.Log
	logger     zerolog.Logger

	guard   market.OrderGuard
	history []market.Bar
	index   int
	equity  float64
	last    market.Bar

	healTarget   float64
	droppedIndex int
}

// NewDriver wires the per-instrument pipeline
func NewDriver(instrument market.Instrument, cfg DriverConfig, signals SignalSource, adapter execution.Adapter, log *events.Log, logger zerolog.Logger) *Driver {
	logger = logger.With().Str("instrument", instrument.ID).Logger()
	return &Driver{
		instrument: instrument,
		cfg:        cfg,
		signals:    signals,
		sizer:      risk.NewSizer(cfg.Risk, instrument, logger),
		trailing:   risk.NewTrailingPolicy(cfg.Trailing),
		governor:   circuit.NewGovernor(cfg.Governance, instrument, logger),
		adapter:    adapter,
		log:        log,
		logger:     logger.With().Str("component", "replay_driver").Logger(),
		equity:     cfg.InitialEquity,
		index:      -1,
	}
}

// Equity returns the running account equity
func (d *Driver) Equity() float64 { return d.equity }

// Governor exposes the session state for reporting
func (d *Driver) Governor() *circuit.Governor { return d.governor }

// Run replays a full pass of feed and force-closes anything left open.
// The returned error is fatal for this instrument only.
func (d *Driver) Run(feed market.Feed) error {
	cur, err := feed.Open()
	if err != nil {
		return d.fatal(fmt.Errorf("failed to open feed: %w", err))
	}
	defer cur.Close()

	for {
		bar, ok, err := cur.Next()
		if err != nil {
			return d.fatal(fmt.Errorf("failed to read bar: %w", err))
		}
		if !ok {
			break
		}
		if err := d.ProcessBar(bar); err != nil {
			return err
		}
	}
	return d.Finish()
}

// ProcessBar advances the replay by one bar
func (d *Driver) ProcessBar(bar market.Bar) error {
	if err := d.guard.Check(bar); err != nil {
		return d.fatal(err)
	}
	if err := bar.Validate(); err != nil {
		return d.fatal(err)
	}
	d.index++
	d.last = bar
	d.remember(bar)

	if bar.Gap {
		d.log.Append(events.TradeEvent{Time: bar.Time, Kind: events.KindGap, Price: bar.Open})
	}

	if _, open := d.adapter.Position(); open {
		if err := d.manageOpen(bar); err != nil {
			return d.fatal(err)
		}
	}

	// Re-entry on the bar that closed a position is allowed, subject to governance
	if _, open := d.adapter.Position(); !open {
		if err := d.tryEntry(bar); err != nil {
			return d.fatal(err)
		}
	}
	return nil
}

// Finish force-closes an open position at the last close
func (d *Driver) Finish() error {
	if _, open := d.adapter.Position(); !open {
		return nil
	}
	closure, err := d.adapter.Cancel(d.last.Close, d.last.Time)
	if err != nil {
		return d.fatal(fmt.Errorf("failed to force close: %w", err))
	}
	d.recordClose(closure)
	return nil
}

func (d *Driver) remember(bar market.Bar) {
	d.history = append(d.history, bar)
	w := d.cfg.Indicators.Window()
	if len(d.history) > 2*w {
		d.history = append([]market.Bar(nil), d.history[len(d.history)-w:]...)
	}
}

func (d *Driver) manageOpen(bar market.Bar) error {
	res, err := d.adapter.Step(bar)
	if err != nil {
		return fmt.Errorf("failed to step position: %w", err)
	}
	if res.Closure != nil {
		d.recordClose(*res.Closure)
		return nil
	}
	pos, _ := d.adapter.Position()

	if res.Adjustment != nil {
		d.log.Append(events.TradeEvent{
			Time:     bar.Time,
			Kind:     events.KindTrailAdj,
			TradeID:  pos.ID,
			Side:     pos.Side,
			Price:    bar.Close,
			Stop:     res.Adjustment.New,
			PrevStop: res.Adjustment.Old,
		})
	}

	if err := d.adapter.Verify(); errors.Is(err, execution.ErrOcoIncomplete) {
		if d.cfg.HealDelayBars >= 0 && d.index-d.droppedIndex >= d.cfg.HealDelayBars {
			if err := d.adapter.Heal(d.healTarget); err != nil {
				return err
			}
			target := d.healTarget
			d.log.Append(events.TradeEvent{
				Time:    bar.Time,
				Kind:    events.KindFixOco,
				TradeID: pos.ID,
				Side:    pos.Side,
				Price:   bar.Close,
				Stop:    pos.Stop,
				Target:  &target,
			})
		}
	}

	if pos.State == orders.StateOpen && d.trailing.ShouldArm(pos.UnrealizedR(bar.Close)) {
		atr, err := indicators.ATR(d.history, d.cfg.Indicators.ATRPeriod)
		if err != nil {
			d.logger.Debug().Err(err).Msg("Trailing activation deferred")
			return nil
		}
		distance := d.trailing.Distance(atr)
		if err := d.adapter.ArmTrailing(distance); err != nil {
			return err
		}
		d.log.Append(events.TradeEvent{
			Time:     bar.Time,
			Kind:     events.KindTrailOn,
			TradeID:  pos.ID,
			Side:     pos.Side,
			Price:    bar.Close,
			Stop:     pos.Stop,
			Distance: distance,
		})
	}
	return nil
}

func (d *Driver) tryEntry(bar market.Bar) error {
	if block := d.governor.Check(bar, d.index); !block.Allowed() {
		d.log.Append(events.TradeEvent{
			Time:   bar.Time,
			Kind:   events.KindBlocked,
			Price:  bar.Close,
			Reason: string(block.Reason),
			Detail: block.Detail,
		})
		return nil
	}

	snap, err := indicators.Compute(d.history, d.cfg.Indicators)
	if errors.Is(err, indicators.ErrInsufficientHistory) {
		d.log.Append(events.TradeEvent{Time: bar.Time, Kind: events.KindSkip, Reason: SkipInsufficientHistory})
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to compute indicators: %w", err)
	}

	sig := d.signals.Evaluate(snap, false)
	if sig == nil {
		return nil
	}

	dec, err := d.sizer.Size(sig.Side, sig.Confidence, bar.Close, snap.ATR, d.equity)
	if errors.Is(err, risk.ErrRiskRejected) {
		d.log.Append(events.TradeEvent{
			Time:       bar.Time,
			Kind:       events.KindRiskRejected,
			Side:       sig.Side,
			Price:      bar.Close,
			Confidence: sig.Confidence,
			Detail:     err.Error(),
		})
		return nil
	}
	if err != nil {
		return err
	}

	res, err := d.adapter.PlaceBracket(execution.BracketRequest{
		Side:     dec.Side,
		Entry:    dec.Entry,
		Stop:     dec.Stop,
		Target:   dec.Target,
		Size:     dec.Size,
		Leverage: dec.Leverage,
		Time:     bar.Time,
		Index:    d.index,
	})
	if err != nil {
		return err
	}
	d.governor.RecordEntry(dec.Entry, bar.Time, d.index)

	pos := res.Position
	d.log.Append(events.TradeEvent{
		Time:       bar.Time,
		Kind:       events.KindSignalEntry,
		TradeID:    pos.ID,
		Side:       pos.Side,
		Price:      bar.Close,
		Entry:      pos.Entry,
		Stop:       pos.Stop,
		Target:     pos.Target,
		Size:       pos.Size,
		Leverage:   pos.Leverage,
		Confidence: sig.Confidence,
		Equity:     d.equity,
		OcoDropped: res.OcoDropped,
	})

	if res.OcoDropped {
		d.healTarget = dec.Target
		d.droppedIndex = d.index
		d.log.Append(events.TradeEvent{
			Time:       bar.Time,
			Kind:       events.KindOcoDropped,
			TradeID:    pos.ID,
			Side:       pos.Side,
			Entry:      pos.Entry,
			Stop:       pos.Stop,
			Detail:     execution.ErrOcoIncomplete.Error(),
			OcoDropped: true,
		})
		d.logger.Warn().
			Str("trade_id", pos.ID).
			Int("heal_delay_bars", d.cfg.HealDelayBars).
			Msg("Target leg dropped on fill")
	}
	return nil
}

func (d *Driver) recordClose(c orders.Closure) {
	d.equity += c.PnL
	d.governor.RecordClose(c.R, c.ClosedAt)
	r := c.R
	d.log.Append(events.TradeEvent{
		Time:    c.ClosedAt,
		Kind:    events.KindClose,
		TradeID: c.PositionID,
		Side:    c.Side,
		Price:   c.Exit,
		Entry:   c.Entry,
		Stop:    c.InitialStop,
		Size:    c.Size,
		Reason:  string(c.Reason),
		R:       &r,
		Equity:  d.equity,
	})
}

func (d *Driver) fatal(err error) error {
	t := d.last.Time
	d.log.Append(events.TradeEvent{Time: t, Kind: events.KindFatal, Detail: err.Error()})
	d.logger.Error().Err(err).Int("bar_index", d.index).Msg("Replay aborted for instrument")
	return fmt.Errorf("instrument %s: %w", d.instrument.ID, err)
}
