package orders

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrEmptyInstrument is returned when an ID generator has no instrument
var ErrEmptyInstrument = errors.New("instrument cannot be empty")

// namespaceTrades scopes every trade ID this module generates
var namespaceTrades = uuid.NewSHA1(uuid.NameSpaceOID, []byte("trade-signal-sim/trades"))

// TradeIDGenerator hands out deterministic trade IDs for one instrument.
// The same run, instrument and sequence number always give the same ID, so
// replays produce identical logs.
type TradeIDGenerator struct {
	namespace  uuid.UUID
	instrument string
	seq        int
}

// NewTradeIDGenerator creates a generator scoped to runKey and instrument
func NewTradeIDGenerator(runKey, instrument string) (*TradeIDGenerator, error) {
	if instrument == "" {
		return nil, ErrEmptyInstrument
	}
	return &TradeIDGenerator{
		namespace:  uuid.NewSHA1(namespaceTrades, []byte(runKey)),
		instrument: instrument,
	}, nil
}

// Next returns the next trade ID
func (g *TradeIDGenerator) Next() string {
	g.seq++
	return uuid.NewSHA1(g.namespace, []byte(fmt.Sprintf("%s|%d", g.instrument, g.seq))).String()
}

// Sequence returns how many IDs have been issued
func (g *TradeIDGenerator) Sequence() int {
	return g.seq
}
