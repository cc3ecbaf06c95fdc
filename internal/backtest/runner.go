package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"trade-signal-sim/internal/events"
	"trade-signal-sim/internal/execution"
	"trade-signal-sim/internal/market"
	"trade-signal-sim/internal/orders"
	"trade-signal-sim/internal/signal"
)

// RunConfig describes one replay run across instruments
type RunConfig struct {
	RunID       string              `json:"run_id" yaml:"run_id"`
	Seed        int64               `json:"seed" yaml:"seed"`
	Parallelism int                 `json:"parallelism" yaml:"parallelism"`
	Driver      DriverConfig        `json:"driver" yaml:"driver"`
	Execution   execution.SimConfig `json:"execution" yaml:"execution"`
	Signal      signal.Config       `json:"signal" yaml:"signal"`
}

// Validate checks every nested section
func (c RunConfig) Validate() error {
	if err := c.Driver.Indicators.Validate(); err != nil {
		return fmt.Errorf("indicators: %w", err)
	}
	if err := c.Driver.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if err := c.Driver.Trailing.Validate(); err != nil {
		return fmt.Errorf("trailing: %w", err)
	}
	if err := c.Driver.Governance.Validate(); err != nil {
		return fmt.Errorf("governance: %w", err)
	}
	if err := c.Execution.Validate(); err != nil {
		return fmt.Errorf("execution: %w", err)
	}
	if err := c.Signal.Validate(); err != nil {
		return fmt.Errorf("signal: %w", err)
	}
	if c.Driver.InitialEquity <= 0 {
		return fmt.Errorf("initial_equity must be positive, got %.2f", c.Driver.InitialEquity)
	}
	return nil
}

// InstrumentSpec pairs an instrument with the feed to replay
type InstrumentSpec struct {
	Instrument market.Instrument
	Feed       market.Feed
}

// InstrumentResult is the outcome of one instrument's replay
type InstrumentResult struct {
	Instrument string              `json:"instrument"`
	Summary    Summary             `json:"summary"`
	Events     []events.TradeEvent `json:"-"`
	Err        error               `json:"-"`
}

// RunResult holds every instrument's outcome in input order
type RunResult struct {
	RunID       string             `json:"run_id"`
	Seed        int64              `json:"seed"`
	Instruments []InstrumentResult `json:"instruments"`
	Total       Summary            `json:"total"`
	SinkErrors  []string           `json:"sink_errors,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	Duration    time.Duration      `json:"duration"`
}

// Failed returns the instruments whose replay aborted
func (r *RunResult) Failed() []InstrumentResult {
	var out []InstrumentResult
	for _, ir := range r.Instruments {
		if ir.Err != nil {
			out = append(out, ir)
		}
	}
	return out
}

// Runner replays instruments in parallel. Each goroutine owns its driver,
// adapter and log; nothing is shared between instruments except the bus.
type Runner struct {
	cfg    RunConfig
	gate   signal.Gate
	bus    *events.EventBus
	sinks  []events.Sink
	logger zerolog.Logger
}

// NewRunner creates a runner. gate and bus may be nil.
func NewRunner(cfg RunConfig, gate signal.Gate, bus *events.EventBus, sinks []events.Sink, logger zerolog.Logger) *Runner {
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}
	return &Runner{
		cfg:    cfg,
		gate:   gate,
		bus:    bus,
		sinks:  sinks,
		logger: logger.With().Str("component", "runner").Str("run_id", cfg.RunID).Logger(),
	}
}

// RunID returns the identifier results and sinks are keyed by
func (r *Runner) RunID() string { return r.cfg.RunID }

// Run replays every instrument to completion. A failing instrument is
// recorded in its result and never cancels the others. ctx is only
// consulted by the sinks after the join.
func (r *Runner) Run(ctx context.Context, specs []InstrumentSpec) *RunResult {
	started := time.Now()
	results := make([]InstrumentResult, len(specs))

	var g errgroup.Group
	if r.cfg.Parallelism > 0 {
		g.SetLimit(r.cfg.Parallelism)
	}
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			results[i] = r.runInstrument(spec)
			return nil
		})
	}
	_ = g.Wait()

	res := &RunResult{
		RunID:       r.cfg.RunID,
		Seed:        r.cfg.Seed,
		Instruments: results,
		StartedAt:   started,
	}
	summaries := make([]Summary, 0, len(results))
	for _, ir := range results {
		summaries = append(summaries, ir.Summary)
	}
	res.Total = Combine(summaries)

	for _, ir := range results {
		for _, sink := range r.sinks {
			if err := sink.Write(ctx, r.cfg.RunID, ir.Events); err != nil {
				r.logger.Error().Err(err).Str("sink", sink.Name()).Str("instrument", ir.Instrument).Msg("Failed to export events")
				res.SinkErrors = append(res.SinkErrors, fmt.Sprintf("%s/%s: %v", sink.Name(), ir.Instrument, err))
			}
		}
	}
	res.Duration = time.Since(started)

	r.logger.Info().
		Int("instruments", len(specs)).
		Int("failed", len(res.Failed())).
		Int("trades", res.Total.TotalTrades).
		Float64("cumulative_r", res.Total.CumulativeR).
		Dur("duration", res.Duration).
		Msg("Replay run complete")
	return res
}

func (r *Runner) runInstrument(spec InstrumentSpec) InstrumentResult {
	id := spec.Instrument.ID
	seed := market.InstrumentSeed(r.cfg.Seed, id)
	logger := r.logger.With().Str("instrument", id).Logger()

	log := events.NewLog(id, func(ev events.TradeEvent) {
		if r.bus != nil {
			r.bus.Publish(r.cfg.RunID, ev)
		}
	})
	result := InstrumentResult{Instrument: id}

	ids, err := orders.NewTradeIDGenerator(fmt.Sprintf("seed-%d", r.cfg.Seed), id)
	if err != nil {
		result.Err = err
		result.Summary = Summarize(id, r.cfg.Driver.InitialEquity, nil)
		result.Summary.Error = err.Error()
		return result
	}

	// Adapter and driver add the instrument field themselves
	adapter := execution.NewSimAdapter(id, r.cfg.Execution, seed, ids, r.logger)
	agg := signal.NewAggregator(r.cfg.Signal, r.gate, logger)
	driver := NewDriver(spec.Instrument, r.cfg.Driver, agg, adapter, log, r.logger)

	result.Err = driver.Run(spec.Feed)
	result.Events = log.Events()
	result.Summary = Summarize(id, r.cfg.Driver.InitialEquity, result.Events)
	if result.Err != nil {
		result.Summary.Error = result.Err.Error()
	}
	logger.Debug().Int("events", len(result.Events)).Msg("Instrument replay finished")
	return result
}
