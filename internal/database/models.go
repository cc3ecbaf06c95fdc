package database

import (
	"encoding/json"
	"time"

	"trade-signal-sim/internal/backtest"
)

// RunRecord is a stored replay run
type RunRecord struct {
	ID          string          `json:"id"`
	Seed        int64           `json:"seed"`
	Instruments int             `json:"instruments"`
	Failed      int             `json:"failed"`
	TotalTrades int             `json:"total_trades"`
	CumulativeR float64         `json:"cumulative_r"`
	Config      json.RawMessage `json:"config,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	DurationMs  int64           `json:"duration_ms"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewRunRecord flattens a finished run
func NewRunRecord(res *backtest.RunResult, cfg json.RawMessage) RunRecord {
	return RunRecord{
		ID:          res.RunID,
		Seed:        res.Seed,
		Instruments: len(res.Instruments),
		Failed:      len(res.Failed()),
		TotalTrades: res.Total.TotalTrades,
		CumulativeR: res.Total.CumulativeR,
		Config:      cfg,
		StartedAt:   res.StartedAt,
		DurationMs:  res.Duration.Milliseconds(),
	}
}
