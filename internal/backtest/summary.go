package backtest

import (
	"trade-signal-sim/internal/events"
)

// Summary aggregates one instrument's event log
type Summary struct {
	Instrument     string         `json:"instrument"`
	Events         int            `json:"events"`
	TotalTrades    int            `json:"total_trades"`
	WinningTrades  int            `json:"winning_trades"`
	LosingTrades   int            `json:"losing_trades"`
	WinRate        float64        `json:"win_rate"`
	CumulativeR    float64        `json:"cumulative_r"`
	AverageR       float64        `json:"average_r"`
	MaxDrawdownR   float64        `json:"max_drawdown_r"`
	ExitsByReason  map[string]int `json:"exits_by_reason"`
	BlocksByReason map[string]int `json:"blocks_by_reason"`
	RiskRejected   int            `json:"risk_rejected"`
	Skips          int            `json:"skips"`
	OcoDrops       int            `json:"oco_drops"`
	OcoHeals       int            `json:"oco_heals"`
	TrailArms      int            `json:"trail_arms"`
	TrailAdjusts   int            `json:"trail_adjusts"`
	Gaps           int            `json:"gaps"`
	InitialEquity  float64        `json:"initial_equity"`
	FinalEquity    float64        `json:"final_equity"`
	NetPnL         float64        `json:"net_pnl"`
	Error          string         `json:"error,omitempty"`
}

// Summarize derives a Summary from a finished event log
func Summarize(instrument string, initialEquity float64, evs []events.TradeEvent) Summary {
	s := Summary{
		Instrument:     instrument,
		Events:         len(evs),
		ExitsByReason:  make(map[string]int),
		BlocksByReason: make(map[string]int),
		InitialEquity:  initialEquity,
		FinalEquity:    initialEquity,
	}

	peak := 0.0
	for _, ev := range evs {
		switch ev.Kind {
		case events.KindClose:
			s.TotalTrades++
			s.ExitsByReason[ev.Reason]++
			r := 0.0
			if ev.R != nil {
				r = *ev.R
			}
			if r > 0 {
				s.WinningTrades++
			} else {
				s.LosingTrades++
			}
			s.CumulativeR += r
			if s.CumulativeR > peak {
				peak = s.CumulativeR
			}
			if dd := peak - s.CumulativeR; dd > s.MaxDrawdownR {
				s.MaxDrawdownR = dd
			}
			s.FinalEquity = ev.Equity
		case events.KindBlocked:
			s.BlocksByReason[ev.Reason]++
		case events.KindRiskRejected:
			s.RiskRejected++
		case events.KindSkip:
			s.Skips++
		case events.KindOcoDropped:
			s.OcoDrops++
		case events.KindFixOco:
			s.OcoHeals++
		case events.KindTrailOn:
			s.TrailArms++
		case events.KindTrailAdj:
			s.TrailAdjusts++
		case events.KindGap:
			s.Gaps++
		case events.KindFatal:
			s.Error = ev.Detail
		}
	}

	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
		s.AverageR = s.CumulativeR / float64(s.TotalTrades)
	}
	s.NetPnL = s.FinalEquity - s.InitialEquity
	return s
}

// Combine folds per-instrument summaries into a run total. Drawdown is the
// worst single instrument, since instruments run on independent books.
func Combine(summaries []Summary) Summary {
	total := Summary{
		Instrument:     "ALL",
		ExitsByReason:  make(map[string]int),
		BlocksByReason: make(map[string]int),
	}
	for _, s := range summaries {
		total.Events += s.Events
		total.TotalTrades += s.TotalTrades
		total.WinningTrades += s.WinningTrades
		total.LosingTrades += s.LosingTrades
		total.CumulativeR += s.CumulativeR
		if s.MaxDrawdownR > total.MaxDrawdownR {
			total.MaxDrawdownR = s.MaxDrawdownR
		}
		for k, v := range s.ExitsByReason {
			total.ExitsByReason[k] += v
		}
		for k, v := range s.BlocksByReason {
			total.BlocksByReason[k] += v
		}
		total.RiskRejected += s.RiskRejected
		total.Skips += s.Skips
		total.OcoDrops += s.OcoDrops
		total.OcoHeals += s.OcoHeals
		total.TrailArms += s.TrailArms
		total.TrailAdjusts += s.TrailAdjusts
		total.Gaps += s.Gaps
		total.InitialEquity += s.InitialEquity
		total.FinalEquity += s.FinalEquity
		total.NetPnL += s.NetPnL
	}
	if total.TotalTrades > 0 {
		total.WinRate = float64(total.WinningTrades) / float64(total.TotalTrades) * 100
		total.AverageR = total.CumulativeR / float64(total.TotalTrades)
	}
	return total
}
