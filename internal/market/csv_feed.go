package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// CSVFeed streams bars from a CSV file with a header row.
// Recognised columns: time|timestamp, open, high, low, close, volume|vol, gap.
// Time accepts RFC3339 or UNIX seconds. The file is reopened on every pass.
type CSVFeed struct {
	key  FeedKey
	path string
}

// NewCSVFeed creates a CSV-backed feed
func NewCSVFeed(key FeedKey, path string) *CSVFeed {
	return &CSVFeed{key: key, path: path}
}

// Key returns the feed key
func (f *CSVFeed) Key() FeedKey { return f.key }

// Open starts a new pass over the file
func (f *CSVFeed) Open() (Cursor, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv feed %s: %w", f.path, err)
	}
	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		file.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv feed %s is empty", f.path)
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return &csvCursor{file: file, r: r, cols: cols, key: f.key}, nil
}

type csvCursor struct {
	file *os.File
	r    *csv.Reader
	cols map[string]int
	key  FeedKey
	line int
}

func (c *csvCursor) Next() (Bar, bool, error) {
	if c.file == nil {
		return Bar{}, false, ErrFeedClosed
	}
	for {
		rec, err := c.r.Read()
		if errors.Is(err, io.EOF) {
			return Bar{}, false, nil
		}
		if err != nil {
			return Bar{}, false, fmt.Errorf("failed to read csv row: %w", err)
		}
		c.line++

		ts := c.field(rec, "time", "timestamp")
		if ts == "" {
			continue
		}
		t, err := parseTimeFlexible(ts)
		if err != nil {
			return Bar{}, false, fmt.Errorf("row %d: %w", c.line, err)
		}
		if !c.key.From.IsZero() && t.Before(c.key.From) {
			continue
		}
		if !c.key.To.IsZero() && t.After(c.key.To) {
			return Bar{}, false, nil
		}

		b := Bar{Time: t}
		if b.Open, err = c.float(rec, "open"); err != nil {
			return Bar{}, false, fmt.Errorf("row %d: %w", c.line, err)
		}
		if b.High, err = c.float(rec, "high"); err != nil {
			return Bar{}, false, fmt.Errorf("row %d: %w", c.line, err)
		}
		if b.Low, err = c.float(rec, "low"); err != nil {
			return Bar{}, false, fmt.Errorf("row %d: %w", c.line, err)
		}
		if b.Close, err = c.float(rec, "close"); err != nil {
			return Bar{}, false, fmt.Errorf("row %d: %w", c.line, err)
		}
		if v := c.field(rec, "volume", "vol"); v != "" {
			if b.Volume, err = strconv.ParseFloat(v, 64); err != nil {
				return Bar{}, false, fmt.Errorf("row %d: invalid volume %q: %w", c.line, v, err)
			}
		}
		if g := c.field(rec, "gap"); g != "" {
			if b.Gap, err = strconv.ParseBool(g); err != nil {
				return Bar{}, false, fmt.Errorf("row %d: invalid gap %q: %w", c.line, g, err)
			}
		}
		return b, true, nil
	}
}

func (c *csvCursor) Close() error {
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

func (c *csvCursor) field(rec []string, names ...string) string {
	for _, n := range names {
		if i, ok := c.cols[n]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
	}
	return ""
}

func (c *csvCursor) float(rec []string, name string) (float64, error) {
	s := c.field(rec, name)
	if s == "" {
		return 0, fmt.Errorf("missing %s column", name)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return v, nil
}

func parseTimeFlexible(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		// Millisecond timestamps are longer than 12 digits
		if len(s) > 12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}
