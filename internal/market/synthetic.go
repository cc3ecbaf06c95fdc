package market

import (
	"math"
	"math/rand"
	"time"
)

// SyntheticConfig controls the random walk generator
type SyntheticConfig struct {
	Start      time.Time     `json:"start" yaml:"start"`
	Interval   time.Duration `json:"interval" yaml:"interval"`
	Bars       int           `json:"bars" yaml:"bars"`
	BasePrice  float64       `json:"base_price" yaml:"base_price"`
	Volatility float64       `json:"volatility" yaml:"volatility"` // Per-bar fractional move
	Drift      float64       `json:"drift" yaml:"drift"`           // Per-bar fractional bias
	GapEvery   int           `json:"gap_every" yaml:"gap_every"`   // Skip one interval every N bars, 0 disables
}

// DefaultSyntheticConfig returns a one-minute walk around 100
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Start:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Interval:   time.Minute,
		Bars:       1000,
		BasePrice:  100.0,
		Volatility: 0.002,
	}
}

// SyntheticFeed generates a seeded random walk. The same seed always yields
// the same bars, on every pass.
type SyntheticFeed struct {
	key  FeedKey
	cfg  SyntheticConfig
	seed int64
}

// NewSyntheticFeed creates a generator for instrument using seed
func NewSyntheticFeed(instrument string, cfg SyntheticConfig, seed int64) *SyntheticFeed {
	def := DefaultSyntheticConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BasePrice <= 0 {
		cfg.BasePrice = def.BasePrice
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = def.Volatility
	}
	if cfg.Start.IsZero() {
		cfg.Start = def.Start
	}
	return &SyntheticFeed{
		key: FeedKey{
			Instrument:  instrument,
			Granularity: cfg.Interval,
			From:        cfg.Start,
			To:          cfg.Start.Add(time.Duration(cfg.Bars) * cfg.Interval),
		},
		cfg:  cfg,
		seed: seed,
	}
}

// Key returns the feed key
func (f *SyntheticFeed) Key() FeedKey { return f.key }

// Open starts a new pass with a fresh generator
func (f *SyntheticFeed) Open() (Cursor, error) {
	return &syntheticCursor{
		cfg:   f.cfg,
		rng:   rand.New(rand.NewSource(f.seed)),
		price: f.cfg.BasePrice,
		next:  f.cfg.Start,
	}, nil
}

type syntheticCursor struct {
	cfg    SyntheticConfig
	rng    *rand.Rand
	price  float64
	next   time.Time
	n      int
	closed bool
}

func (c *syntheticCursor) Next() (Bar, bool, error) {
	if c.closed {
		return Bar{}, false, ErrFeedClosed
	}
	if c.n >= c.cfg.Bars {
		return Bar{}, false, nil
	}

	gap := false
	if c.cfg.GapEvery > 0 && c.n > 0 && c.n%c.cfg.GapEvery == 0 {
		c.next = c.next.Add(c.cfg.Interval)
		gap = true
	}

	vol := c.cfg.Volatility
	open := c.price
	change := c.cfg.Drift + (c.rng.Float64()-0.5)*vol*2
	closePrice := open * (1 + change)
	high := math.Max(open, closePrice) * (1 + c.rng.Float64()*vol*0.5)
	low := math.Min(open, closePrice) * (1 - c.rng.Float64()*vol*0.5)

	b := Bar{
		Time:   c.next,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		Volume: 1000 + c.rng.Float64()*5000,
		Gap:    gap,
	}

	c.price = closePrice
	c.next = c.next.Add(c.cfg.Interval)
	c.n++
	return b, true, nil
}

func (c *syntheticCursor) Close() error {
	c.closed = true
	return nil
}
