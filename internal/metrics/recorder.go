// Package metrics exposes replay activity as Prometheus metrics:
//
//	sim_events_total{instrument,kind}  events appended to instrument logs
//	sim_exits_total{reason,side}       closed positions by exit reason
//	sim_blocks_total{reason}           governance blocks by reason
//	sim_trades_total{result}           closed trades by result (win|loss)
//	sim_equity{instrument}             equity after the latest close
//	sim_runs_total{status}             finished runs (ok|partial)
//	sim_run_duration_seconds           wall time of finished runs
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trade-signal-sim/internal/backtest"
	"trade-signal-sim/internal/events"
)

// Recorder owns a private registry so tests and multiple servers never
// collide on the global one
type Recorder struct {
	registry *prometheus.Registry

	events      *prometheus.CounterVec
	exits       *prometheus.CounterVec
	blocks      *prometheus.CounterVec
	trades      *prometheus.CounterVec
	equity      *prometheus.GaugeVec
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
}

// NewRecorder creates and registers the replay metrics
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sim_events_total",
				Help: "Trade events appended, by instrument and kind",
			},
			[]string{"instrument", "kind"},
		),
		exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sim_exits_total",
				Help: "Closed positions split by exit reason and side",
			},
			[]string{"reason", "side"},
		),
		blocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sim_blocks_total",
				Help: "Entries blocked by governance, by reason",
			},
			[]string{"reason"},
		),
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sim_trades_total",
				Help: "Closed trades counted by result (win|loss)",
			},
			[]string{"result"},
		),
		equity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sim_equity",
				Help: "Equity after the latest close",
			},
			[]string{"instrument"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sim_runs_total",
				Help: "Finished replay runs by status",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sim_run_duration_seconds",
				Help:    "Wall time of finished replay runs",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
	}

	r.registry.MustRegister(r.events, r.exits, r.blocks, r.trades, r.equity, r.runs, r.runDuration)
	return r
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the Prometheus text exposition
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Attach subscribes the recorder to every event on bus
func (r *Recorder) Attach(bus *events.EventBus) {
	bus.SubscribeAll(func(_ string, ev events.TradeEvent) {
		r.Observe(ev)
	})
}

// Observe records a single event
func (r *Recorder) Observe(ev events.TradeEvent) {
	r.events.WithLabelValues(ev.Instrument, string(ev.Kind)).Inc()

	switch ev.Kind {
	case events.KindClose:
		r.exits.WithLabelValues(ev.Reason, string(ev.Side)).Inc()
		result := "loss"
		if ev.R != nil && *ev.R > 0 {
			result = "win"
		}
		r.trades.WithLabelValues(result).Inc()
		r.equity.WithLabelValues(ev.Instrument).Set(ev.Equity)
	case events.KindBlocked:
		r.blocks.WithLabelValues(ev.Reason).Inc()
	}
}

// ObserveRun records a finished run
func (r *Recorder) ObserveRun(res *backtest.RunResult) {
	status := "ok"
	if len(res.Failed()) > 0 {
		status = "partial"
	}
	r.runs.WithLabelValues(status).Inc()
	r.runDuration.Observe(res.Duration.Seconds())
}
