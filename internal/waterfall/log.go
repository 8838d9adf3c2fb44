// Package waterfall provides a bounded, time-ordered store of magnitude
// spectra with snapshot-based export in three interchangeable formats.
package waterfall

import (
	"fmt"
	"sync"
	"time"
)

// Entry is one logged spectrum row together with its capture conditions.
type Entry struct {
	Timestamp   time.Time     // Capture time of the source window
	SessionTime time.Duration // Offset from session start
	Magnitudes  []float64     // Parallel to the log's frequency axis
	Level       float64       // RMS level of the source window
	SampleRate  int           // Effective sample rate at capture
}

// Metadata describes the session a waterfall was captured in. It travels
// with every exported bundle so offline analysis can reproduce the
// classification parameters.
type Metadata struct {
	SessionID          string    `json:"sessionID"`
	SessionStart       time.Time `json:"sessionStart"`
	SampleRate         int       `json:"sampleRate"`
	WindowSize         int       `json:"windowSize"`
	DetectionThreshold float64   `json:"detectionThreshold"`
	StrongThreshold    float64   `json:"strongThreshold"`
	ToneTolerance      float64   `json:"toneTolerance"`
	MarkTone           float64   `json:"markTone"`
	SpaceTone          float64   `json:"spaceTone"`
	CarrierTone        float64   `json:"carrierTone"`
}

// Log is an append-only, bounded FIFO collection of spectrum entries. Once
// capacity is reached each append evicts exactly the oldest entry. A single
// writer appends; concurrent readers obtain consistent point-in-time copies
// through Snapshot and never observe a partially written entry.
type Log struct {
	capacity int
	axis     []float64
	meta     Metadata

	mu      sync.Mutex
	entries []Entry // ring storage
	start   int     // index of the oldest entry
	size    int
	total   uint64 // entries appended over the log's lifetime
}

// NewLog creates a waterfall log bounded to capacity entries over the given
// fixed frequency axis.
func NewLog(capacity int, axis []float64, meta Metadata) (*Log, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid waterfall capacity: %d", capacity)
	}
	if len(axis) == 0 {
		return nil, fmt.Errorf("empty frequency axis")
	}
	return &Log{
		capacity: capacity,
		axis:     axis,
		meta:     meta,
		entries:  make([]Entry, capacity),
	}, nil
}

// Append adds an entry, evicting the oldest one if the log is full. The
// entry's magnitude vector must match the axis length.
func (l *Log) Append(e Entry) error {
	if len(e.Magnitudes) != len(l.axis) {
		return fmt.Errorf("magnitude vector length %d does not match axis length %d", len(e.Magnitudes), len(l.axis))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size == l.capacity {
		l.start = (l.start + 1) % l.capacity
		l.size--
	}
	l.entries[(l.start+l.size)%l.capacity] = e
	l.size++
	l.total++
	return nil
}

// Len returns the number of entries currently retained.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Total returns the number of entries appended over the log's lifetime,
// including evicted ones.
func (l *Log) Total() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Capacity returns the configured maximum number of entries.
func (l *Log) Capacity() int {
	return l.capacity
}

// Axis returns the shared frequency axis. The slice must not be modified.
func (l *Log) Axis() []float64 {
	return l.axis
}

// Latest returns a copy of the most recent entry, if any.
func (l *Log) Latest() (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size == 0 {
		return Entry{}, false
	}
	e := l.entries[(l.start+l.size-1)%l.capacity]
	e.Magnitudes = append([]float64(nil), e.Magnitudes...)
	return e, true
}

// Snapshot returns a deep, point-in-time copy of the log as an export
// bundle. Logging may continue concurrently; the bundle never changes after
// it is returned.
func (l *Log) Snapshot() *Bundle {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := &Bundle{
		Timestamps:  make([]time.Time, l.size),
		Frequencies: append([]float64(nil), l.axis...),
		Magnitudes:  make([][]float64, l.size),
		SampleRates: make([]int, l.size),
		Levels:      make([]float64, l.size),
		Meta:        l.meta,
	}
	for i := 0; i < l.size; i++ {
		e := l.entries[(l.start+i)%l.capacity]
		b.Timestamps[i] = e.Timestamp
		b.Magnitudes[i] = append([]float64(nil), e.Magnitudes...)
		b.SampleRates[i] = e.SampleRate
		b.Levels[i] = e.Level
	}
	return b
}

// Bundle is the format-neutral export shape of a waterfall log: ordered
// timestamps, a [time][frequency] magnitude grid over the shared axis, the
// per-entry capture conditions and the session metadata.
type Bundle struct {
	Timestamps  []time.Time
	Frequencies []float64
	Magnitudes  [][]float64
	SampleRates []int
	Levels      []float64
	Meta        Metadata
}

// Len returns the number of time rows in the bundle.
func (b *Bundle) Len() int {
	return len(b.Timestamps)
}
