package events

import (
	"fmt"

	"trade-signal-sim/internal/market"
)

// Verify replays a finished instrument log and reports every record that
// breaks its structure: sequence gaps, time going backwards, overlapping
// trades, closes or repairs for unknown trades, loosened trailing stops, and
// anything recorded after a fatal event.
func Verify(evs []TradeEvent) []error {
	var errs []error
	fail := func(ev TradeEvent, format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("seq %d (%s): %s", ev.Seq, ev.Kind, fmt.Sprintf(format, args...)))
	}

	var (
		openID   string
		openSide market.Side
		stop     float64
		dropped  bool
		fatal    bool
	)
	for i, ev := range evs {
		if ev.Seq != i+1 {
			fail(ev, "expected seq %d", i+1)
		}
		if i > 0 {
			prev := evs[i-1]
			if ev.Time.Before(prev.Time) {
				fail(ev, "time %s before previous %s", ev.Time.Format("2006-01-02T15:04:05Z07:00"), prev.Time.Format("2006-01-02T15:04:05Z07:00"))
			}
			if ev.Instrument != prev.Instrument {
				fail(ev, "instrument %s in a %s log", ev.Instrument, prev.Instrument)
			}
		}
		if fatal {
			fail(ev, "recorded after fatal")
		}

		switch ev.Kind {
		case KindSignalEntry:
			if openID != "" {
				fail(ev, "entry %s while %s is open", ev.TradeID, openID)
			}
			openID, openSide, stop, dropped = ev.TradeID, ev.Side, ev.Stop, false
			if ev.Target == nil && !ev.OcoDropped {
				fail(ev, "entry without a target")
			}

		case KindOcoDropped:
			if ev.TradeID != openID {
				fail(ev, "oco drop for %s, open is %q", ev.TradeID, openID)
			}
			dropped = true

		case KindFixOco:
			if ev.TradeID != openID {
				fail(ev, "repair for %s, open is %q", ev.TradeID, openID)
			}
			if !dropped {
				fail(ev, "repair without a dropped target")
			}
			if ev.Target == nil {
				fail(ev, "repair without a target")
			}
			dropped = false

		case KindTrailOn:
			if ev.TradeID != openID {
				fail(ev, "trailing armed for %s, open is %q", ev.TradeID, openID)
			}

		case KindTrailAdj:
			if ev.TradeID != openID {
				fail(ev, "trailing adjusted for %s, open is %q", ev.TradeID, openID)
			}
			if (openSide == market.SideLong && ev.Stop < stop) || (openSide == market.SideShort && ev.Stop > stop) {
				fail(ev, "stop loosened from %v to %v", stop, ev.Stop)
			}
			stop = ev.Stop

		case KindClose:
			if openID == "" || ev.TradeID != openID {
				fail(ev, "close for %s, open is %q", ev.TradeID, openID)
			}
			if ev.R == nil {
				fail(ev, "close without an R multiple")
			}
			openID, openSide, stop, dropped = "", "", 0, false

		case KindFatal:
			fatal = true
		}
	}
	return errs
}
