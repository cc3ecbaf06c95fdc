package events

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 3, 9, 30, 0, 0, time.UTC)

// TestLogAppend verifies sequence numbers and instrument stamping
func TestLogAppend(t *testing.T) {
	var seen []int
	log := NewLog("EURUSD", func(ev TradeEvent) { seen = append(seen, ev.Seq) })

	log.Append(TradeEvent{Time: t0, Kind: KindSkip, Reason: "insufficient_history"})
	ev := log.Append(TradeEvent{Time: t0.Add(time.Minute), Kind: KindSignalEntry, Instrument: "ignored"})

	if ev.Seq != 2 || ev.Instrument != "EURUSD" {
		t.Errorf("Expected seq 2 on EURUSD, got %d on %s", ev.Seq, ev.Instrument)
	}
	if log.Len() != 2 || log.Count(KindSkip) != 1 {
		t.Errorf("Expected 2 events with 1 skip, got %d/%d", log.Len(), log.Count(KindSkip))
	}
	if len(seen) != 2 || seen[1] != 2 {
		t.Errorf("Expected onAppend for each event, got %v", seen)
	}

	evs := log.Events()
	evs[0].Kind = KindFatal
	if log.Events()[0].Kind != KindSkip {
		t.Error("Expected Events to return a copy")
	}
}

// TestJSONLStable verifies encoding is byte-stable and readable
func TestJSONLStable(t *testing.T) {
	r := -1.0
	target := 112.0
	evs := []TradeEvent{
		{Seq: 1, Time: t0, Instrument: "X", Kind: KindSignalEntry, Side: "long", Entry: 100, Stop: 90, Target: &target, Size: 10},
		{Seq: 2, Time: t0.Add(time.Minute), Instrument: "X", Kind: KindClose, Reason: "SL_HIT", Price: 90, R: &r},
	}

	var a, b bytes.Buffer
	if err := WriteJSONL(&a, evs); err != nil {
		t.Fatalf("WriteJSONL failed: %v", err)
	}
	WriteJSONL(&b, evs)
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatal("Expected identical bytes for identical events")
	}

	back, err := ReadJSONL(bytes.NewReader(a.Bytes()))
	if err != nil {
		t.Fatalf("ReadJSONL failed: %v", err)
	}
	if len(back) != 2 || back[1].R == nil || *back[1].R != -1 || !back[0].Time.Equal(t0) {
		t.Errorf("Unexpected decoded events: %+v", back)
	}
}

// TestJSONLSink verifies files are written per run and instrument
func TestJSONLSink(t *testing.T) {
	dir := t.TempDir()
	sink := NewJSONLSink(dir)
	evs := []TradeEvent{{Seq: 1, Time: t0, Instrument: "GBPUSD", Kind: KindGap}}

	if err := sink.Write(context.Background(), "run1", evs); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	data, err := os.ReadFile(sink.Path("run1", "GBPUSD"))
	if err != nil {
		t.Fatalf("Expected file: %v", err)
	}
	if !bytes.Contains(data, []byte(`"kind":"gap"`)) {
		t.Errorf("Unexpected file content: %s", data)
	}
}

// TestEventBus verifies kind and catch-all subscribers
func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	var closes, all int
	bus.Subscribe(KindClose, func(string, TradeEvent) { closes++ })
	bus.SubscribeAll(func(string, TradeEvent) { all++ })

	bus.Publish("r", TradeEvent{Kind: KindClose})
	bus.Publish("r", TradeEvent{Kind: KindGap})

	if closes != 1 || all != 2 {
		t.Errorf("Expected 1 close and 2 total deliveries, got %d/%d", closes, all)
	}
}
