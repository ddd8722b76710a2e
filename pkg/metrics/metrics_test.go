package metrics

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAsyncObserverDeliversBeforeClose(t *testing.T) {
	mem := NewMemoryObserver()
	async := NewAsyncObserver(mem, 16)
	for i := 0; i < 10; i++ {
		Record(async, EventChunksSent, float64(i), nil)
	}
	async.Close()
	if got := len(mem.Events()); got != 10 {
		t.Fatalf("expected 10 events, got %d", got)
	}
	Record(async, EventChunksSent, 1, nil)
	if got := len(mem.Events()); got != 10 {
		t.Fatalf("event recorded after close")
	}
}

func TestSamplingObserver(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0.5)
	for i := 0; i < 10; i++ {
		s.RecordEvent(MetricsEvent{Name: "x"})
	}
	if got := len(mem.Events()); got != 5 {
		t.Fatalf("expected 5 sampled events, got %d", got)
	}
	none := NewMemoryObserver()
	NewSamplingObserver(none, 0).RecordEvent(MetricsEvent{Name: "x"})
	if len(none.Events()) != 0 {
		t.Fatal("rate 0 should drop everything")
	}
}

func TestSamplingObserverKeepsFailures(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0.1, EventTurnFailed)
	for i := 0; i < 3; i++ {
		Record(s, EventTurnFailed, 1, nil)
		Record(s, EventChunksSent, 1, nil)
	}
	if got := len(mem.Named(EventTurnFailed)); got != 3 {
		t.Fatalf("expected every failure, got %d", got)
	}
	if got := len(mem.Named(EventChunksSent)); got != 0 {
		t.Fatalf("expected chunk events to be sampled out, got %d", got)
	}
}

func TestJSONLObserverWritesLines(t *testing.T) {
	var buf bytes.Buffer
	o := NewJSONLObserver(&buf)
	o.RecordEvent(MetricsEvent{Name: EventTurnComplete, Time: time.Now(), Value: 12, Tags: map[string]string{"turn_id": "t1"}})
	o.RecordEvent(MetricsEvent{Name: EventTurnFailed, Time: time.Now(), Value: 1})

	sc := bufio.NewScanner(&buf)
	var names []string
	for sc.Scan() {
		var line map[string]any
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		names = append(names, line["name"].(string))
	}
	if len(names) != 2 || names[0] != EventTurnComplete || names[1] != EventTurnFailed {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestOpenJSONLFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")
	o, err := OpenJSONLFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	Record(o, EventAudioSegments, 3, nil)
	if err := o.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Contains(data, []byte(EventAudioSegments)) {
		t.Fatalf("expected event in file, got %q", data)
	}
}

func TestMultiObserverFansOut(t *testing.T) {
	a, b := NewMemoryObserver(), NewMemoryObserver()
	m := NewMultiObserver(a, nil, b)
	Record(m, EventTurnComplete, 1, nil)
	if len(a.Named(EventTurnComplete)) != 1 || len(b.Named(EventTurnComplete)) != 1 {
		t.Fatal("expected both observers to receive the event")
	}
}

func TestRecordNilObserver(t *testing.T) {
	Record(nil, EventTurnFailed, 1, nil)
}
