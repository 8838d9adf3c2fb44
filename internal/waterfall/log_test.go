package waterfall

import (
	"sync"
	"testing"
	"time"
)

var testAxis = []float64{21.533203125, 26.91650390625, 32.2998046875}

func testMeta() Metadata {
	return Metadata{
		SessionID:          "3f6c1f2e-test",
		SessionStart:       time.Unix(1000, 0).UTC(),
		SampleRate:         44100,
		WindowSize:         8192,
		DetectionThreshold: 15.0,
		StrongThreshold:    45.0,
		ToneTolerance:      0.5,
		MarkTone:           21.53,
		SpaceTone:          26.92,
		CarrierTone:        32.30,
	}
}

func entryAt(i int) Entry {
	return Entry{
		Timestamp:   time.Unix(1000+int64(i), 0).UTC(),
		SessionTime: time.Duration(i) * time.Second,
		Magnitudes:  []float64{float64(i), float64(i) + 1, float64(i) + 2},
		Level:       0.1 * float64(i),
		SampleRate:  44100,
	}
}

func TestLog_AppendEvictsOldest(t *testing.T) {
	l, err := NewLog(3, testAxis, testMeta())
	if err != nil {
		t.Fatalf("Failed to create log: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := l.Append(entryAt(i)); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	if l.Len() != 3 {
		t.Errorf("Expected 3 retained entries, got %d", l.Len())
	}
	if l.Total() != 5 {
		t.Errorf("Expected 5 total entries, got %d", l.Total())
	}

	// The oldest two entries must be gone, the remaining three in order.
	b := l.Snapshot()
	for i := 0; i < 3; i++ {
		want := entryAt(i + 2)
		if !b.Timestamps[i].Equal(want.Timestamp) {
			t.Errorf("Row %d: expected timestamp %v, got %v", i, want.Timestamp, b.Timestamps[i])
		}
		if b.Magnitudes[i][0] != want.Magnitudes[0] {
			t.Errorf("Row %d: expected magnitude %f, got %f", i, want.Magnitudes[0], b.Magnitudes[i][0])
		}
	}
}

func TestLog_AppendRejectsMismatchedVector(t *testing.T) {
	l, err := NewLog(3, testAxis, testMeta())
	if err != nil {
		t.Fatalf("Failed to create log: %v", err)
	}
	if err := l.Append(Entry{Magnitudes: []float64{1, 2}}); err == nil {
		t.Error("Expected error for magnitude vector shorter than axis")
	}
}

func TestLog_Latest(t *testing.T) {
	l, err := NewLog(3, testAxis, testMeta())
	if err != nil {
		t.Fatalf("Failed to create log: %v", err)
	}

	if _, ok := l.Latest(); ok {
		t.Error("Expected no latest entry for empty log")
	}

	for i := 0; i < 2; i++ {
		if err := l.Append(entryAt(i)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	e, ok := l.Latest()
	if !ok {
		t.Fatal("Expected a latest entry")
	}
	if !e.Timestamp.Equal(entryAt(1).Timestamp) {
		t.Errorf("Expected latest timestamp %v, got %v", entryAt(1).Timestamp, e.Timestamp)
	}

	// Mutating the returned copy must not affect the log.
	e.Magnitudes[0] = -1
	b := l.Snapshot()
	if b.Magnitudes[1][0] == -1 {
		t.Error("Latest returned a slice aliasing log storage")
	}
}

func TestLog_SnapshotIsolatedFromConcurrentAppends(t *testing.T) {
	l, err := NewLog(100, testAxis, testMeta())
	if err != nil {
		t.Fatalf("Failed to create log: %v", err)
	}
	for i := 0; i < 50; i++ {
		if err := l.Append(entryAt(i)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	b := l.Snapshot()
	rows := b.Len()
	sum := func() float64 {
		var s float64
		for _, row := range b.Magnitudes {
			for _, m := range row {
				s += m
			}
		}
		return s
	}
	before := sum()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 50; i < 300; i++ {
			_ = l.Append(entryAt(i))
		}
	}()
	wg.Wait()

	if b.Len() != rows || sum() != before {
		t.Error("Snapshot changed after concurrent appends")
	}
	if b.Meta.SessionID != testMeta().SessionID {
		t.Errorf("Snapshot metadata corrupted: %+v", b.Meta)
	}
}

func TestNewLog_Validation(t *testing.T) {
	if _, err := NewLog(0, testAxis, testMeta()); err == nil {
		t.Error("Expected error for zero capacity")
	}
	if _, err := NewLog(10, nil, testMeta()); err == nil {
		t.Error("Expected error for empty axis")
	}
}
