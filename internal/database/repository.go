package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trade-signal-sim/internal/backtest"
	"trade-signal-sim/internal/events"
)

// Repository stores runs, summaries and trade events. It implements
// events.Sink so a run can export into it directly.
type Repository struct {
	db *DB
}

var _ events.Sink = (*Repository)(nil)

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// Name implements events.Sink
func (r *Repository) Name() string { return "postgres" }

// Write replaces the stored events of one run/instrument pair in a single
// transaction
func (r *Repository) Write(ctx context.Context, runID string, evs []events.TradeEvent) error {
	if len(evs) == 0 {
		return nil
	}
	instrument := evs[0].Instrument

	rows := make([][]interface{}, 0, len(evs))
	for _, ev := range evs {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event %d: %w", ev.Seq, err)
		}
		rows = append(rows, []interface{}{
			runID, ev.Instrument, ev.Seq, ev.Time, string(ev.Kind),
			nullString(ev.TradeID), nullString(string(ev.Side)), ev.Price,
			nullString(ev.Reason), ev.R, payload,
		})
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM sim_trade_events WHERE run_id = $1 AND instrument = $2`, runID, instrument); err != nil {
		return fmt.Errorf("failed to clear events: %w", err)
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"sim_trade_events"},
		[]string{"run_id", "instrument", "seq", "event_time", "kind", "trade_id", "side", "price", "reason", "r_multiple", "payload"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy events: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copied %d of %d events", n, len(rows))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	r.db.logger.Debug().Str("run_id", runID).Str("instrument", instrument).Int64("events", n).Msg("Events stored")
	return nil
}

// SaveRun upserts a run and its per-instrument summaries
func (r *Repository) SaveRun(ctx context.Context, res *backtest.RunResult, cfg json.RawMessage) error {
	rec := NewRunRecord(res, cfg)

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO sim_runs (id, seed, instruments, failed, total_trades, cumulative_r, config, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			instruments = EXCLUDED.instruments,
			failed = EXCLUDED.failed,
			total_trades = EXCLUDED.total_trades,
			cumulative_r = EXCLUDED.cumulative_r,
			config = EXCLUDED.config,
			duration_ms = EXCLUDED.duration_ms
	`, rec.ID, rec.Seed, rec.Instruments, rec.Failed, rec.TotalTrades, rec.CumulativeR,
		nullJSON(rec.Config), rec.StartedAt, rec.DurationMs)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM sim_summaries WHERE run_id = $1`, rec.ID)
	for _, ir := range res.Instruments {
		s := ir.Summary
		payload, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to marshal summary for %s: %w", ir.Instrument, err)
		}
		batch.Queue(`
			INSERT INTO sim_summaries (run_id, instrument, total_trades, winning_trades, losing_trades,
				cumulative_r, max_drawdown_r, final_equity, error, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, rec.ID, ir.Instrument, s.TotalTrades, s.WinningTrades, s.LosingTrades,
			s.CumulativeR, s.MaxDrawdownR, s.FinalEquity, nullString(s.Error), payload)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save summaries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	r.db.logger.Info().Str("run_id", rec.ID).Int("instruments", rec.Instruments).Msg("Run saved")
	return nil
}

// ListRuns returns the most recent runs
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `
		SELECT id, seed, instruments, failed, total_trades, cumulative_r, started_at, duration_ms, created_at
		FROM sim_runs
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(&rec.ID, &rec.Seed, &rec.Instruments, &rec.Failed, &rec.TotalTrades,
			&rec.CumulativeR, &rec.StartedAt, &rec.DurationMs, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// GetSummaries returns the stored per-instrument summaries of a run
func (r *Repository) GetSummaries(ctx context.Context, runID string) ([]backtest.Summary, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT payload FROM sim_summaries WHERE run_id = $1 ORDER BY instrument`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	out := []backtest.Summary{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		var s backtest.Summary
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, fmt.Errorf("failed to decode summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetEvents returns a run's events for one instrument in sequence order.
// An empty kind returns every kind.
func (r *Repository) GetEvents(ctx context.Context, runID, instrument string, kind events.Kind) ([]events.TradeEvent, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT payload FROM sim_trade_events
		WHERE run_id = $1 AND instrument = $2 AND ($3 = '' OR kind = $3)
		ORDER BY seq ASC
	`, runID, instrument, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	out := []events.TradeEvent{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var ev events.TradeEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
