package events

import (
	"sync"
	"time"

	"trade-signal-sim/internal/market"
)

// Kind identifies a trade event
type Kind string

const (
	KindSignalEntry  Kind = "signal_entry"
	KindOcoDropped   Kind = "oco_dropped"
	KindFixOco       Kind = "fix_oco"
	KindTrailOn      Kind = "trail_on"
	KindTrailAdj     Kind = "trail_adj"
	KindClose        Kind = "close"
	KindBlocked      Kind = "blocked"
	KindRiskRejected Kind = "risk_rejected"
	KindSkip         Kind = "skip"
	KindGap          Kind = "gap"
	KindFatal        Kind = "fatal"
)

// AllKinds returns every event kind
func AllKinds() []Kind {
	return []Kind{
		KindSignalEntry, KindOcoDropped, KindFixOco, KindTrailOn, KindTrailAdj,
		KindClose, KindBlocked, KindRiskRejected, KindSkip, KindGap, KindFatal,
	}
}

// TradeEvent is one append-only log record. Time is always the bar's
// timestamp, never the wall clock.
type TradeEvent struct {
	Seq        int         `json:"seq"`
	Time       time.Time   `json:"time"`
	Instrument string      `json:"instrument"`
	Kind       Kind        `json:"kind"`
	TradeID    string      `json:"trade_id,omitempty"`
	Side       market.Side `json:"side,omitempty"`
	Price      float64     `json:"price,omitempty"`
	Entry      float64     `json:"entry,omitempty"`
	Stop       float64     `json:"stop,omitempty"`
	PrevStop   float64     `json:"prev_stop,omitempty"`
	Distance   float64     `json:"distance,omitempty"`
	Target     *float64    `json:"target,omitempty"`
	Size       float64     `json:"size,omitempty"`
	Leverage   float64     `json:"leverage,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Detail     string      `json:"detail,omitempty"`
	R          *float64    `json:"r,omitempty"`
	Equity     float64     `json:"equity,omitempty"`
	OcoDropped bool        `json:"oco_dropped,omitempty"`
}

// Subscriber handles published events
type Subscriber func(runID string, ev TradeEvent)

// EventBus fans trade events out to live listeners (websocket, metrics).
// The log stays the source of truth; the bus is best effort.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[Kind][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[Kind][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for one kind
func (eb *EventBus) Subscribe(kind Kind, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[kind] = append(eb.subscribers[kind], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish delivers an event to subscribers synchronously, in registration order
func (eb *EventBus) Publish(runID string, ev TradeEvent) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, sub := range eb.subscribers[ev.Kind] {
		sub(runID, ev)
	}
	for _, sub := range eb.allSubs {
		sub(runID, ev)
	}
}
