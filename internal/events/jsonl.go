package events

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Sink exports a finished instrument's events. Sinks receive copies of the
// log; they never feed back into a replay.
type Sink interface {
	Name() string
	Write(ctx context.Context, runID string, evs []TradeEvent) error
}

// WriteJSONL encodes events one per line
func WriteJSONL(w io.Writer, evs []TradeEvent) error {
	enc := json.NewEncoder(w)
	for _, ev := range evs {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("failed to encode event %d: %w", ev.Seq, err)
		}
	}
	return nil
}

// ReadJSONL decodes a JSONL event stream
func ReadJSONL(r io.Reader) ([]TradeEvent, error) {
	var out []TradeEvent
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var ev TradeEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return out, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("failed to read events: %w", err)
	}
	return out, nil
}

// JSONLSink writes one <run>_<instrument>.jsonl file per instrument
type JSONLSink struct {
	dir string
	mu  sync.Mutex
}

// NewJSONLSink creates a sink writing under dir
func NewJSONLSink(dir string) *JSONLSink {
	return &JSONLSink{dir: dir}
}

// Name implements Sink
func (s *JSONLSink) Name() string { return "jsonl" }

// Path returns the file a run/instrument pair is written to
func (s *JSONLSink) Path(runID, instrument string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.jsonl", runID, instrument))
}

// Write implements Sink
func (s *JSONLSink) Write(ctx context.Context, runID string, evs []TradeEvent) error {
	if len(evs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create event dir: %w", err)
	}
	f, err := os.Create(s.Path(runID, evs[0].Instrument))
	if err != nil {
		return fmt.Errorf("failed to create event file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := WriteJSONL(w, evs); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush event file: %w", err)
	}
	return f.Close()
}
