package market

import (
	"errors"
	"time"
)

// ErrFeedClosed is returned by a cursor used after Close
var ErrFeedClosed = errors.New("feed cursor closed")

// FeedKey identifies the bar sequence a feed produces
type FeedKey struct {
	Instrument  string        `json:"instrument"`
	Granularity time.Duration `json:"granularity"`
	From        time.Time     `json:"from,omitempty"`
	To          time.Time     `json:"to,omitempty"`
}

// Feed is a lazy, finite, restartable source of bars.
// Every call to Open starts a fresh pass from the first bar.
type Feed interface {
	Key() FeedKey
	Open() (Cursor, error)
}

// Cursor walks one pass over a feed
type Cursor interface {
	// Next returns the next bar; ok is false once the feed is exhausted
	Next() (bar Bar, ok bool, err error)
	Close() error
}

// SliceFeed serves bars from memory
type SliceFeed struct {
	key  FeedKey
	bars []Bar
}

// NewSliceFeed creates a feed over a copy of bars
func NewSliceFeed(key FeedKey, bars []Bar) *SliceFeed {
	cp := make([]Bar, len(bars))
	copy(cp, bars)
	return &SliceFeed{key: key, bars: cp}
}

// Key returns the feed key
func (f *SliceFeed) Key() FeedKey { return f.key }

// Open starts a new pass
func (f *SliceFeed) Open() (Cursor, error) {
	return &sliceCursor{bars: f.bars}, nil
}

type sliceCursor struct {
	bars   []Bar
	pos    int
	closed bool
}

func (c *sliceCursor) Next() (Bar, bool, error) {
	if c.closed {
		return Bar{}, false, ErrFeedClosed
	}
	if c.pos >= len(c.bars) {
		return Bar{}, false, nil
	}
	b := c.bars[c.pos]
	c.pos++
	return b, true, nil
}

func (c *sliceCursor) Close() error {
	c.closed = true
	return nil
}

// Collect drains a full pass of a feed into memory
func Collect(f Feed) ([]Bar, error) {
	cur, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var out []Bar
	for {
		b, ok, err := cur.Next()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, b)
	}
}
