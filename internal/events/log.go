package events

// Log is the append-only event record of one instrument's replay. It is
// owned by a single replay goroutine.
type Log struct {
	instrument string
	events     []TradeEvent
	onAppend   func(TradeEvent)
}

// NewLog creates an empty log. onAppend may be nil.
func NewLog(instrument string, onAppend func(TradeEvent)) *Log {
	return &Log{instrument: instrument, onAppend: onAppend}
}

// Append stamps the sequence number and instrument and records the event
func (l *Log) Append(ev TradeEvent) TradeEvent {
	ev.Seq = len(l.events) + 1
	ev.Instrument = l.instrument
	l.events = append(l.events, ev)
	if l.onAppend != nil {
		l.onAppend(ev)
	}
	return ev
}

// Len returns the number of events
func (l *Log) Len() int { return len(l.events) }

// Events returns a copy of the recorded events
func (l *Log) Events() []TradeEvent {
	out := make([]TradeEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Count returns how many events of kind were recorded
func (l *Log) Count(kind Kind) int {
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// Filter returns the events of the given kind
func Filter(evs []TradeEvent, kind Kind) []TradeEvent {
	var out []TradeEvent
	for _, ev := range evs {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
