// Package recorder archives the raw sample stream into rotating WAV
// segments of a fixed duration.
package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/signalhouse/fskmon/internal/pcm"
)

// Config controls segment rotation and naming.
type Config struct {
	Dir            string // Directory segments are written into
	Prefix         string // Filename prefix
	SampleRate     int
	SegmentSamples int // Samples per segment; rotation happens exactly here
}

// DefaultSegmentSeconds is the rotation period used when none is configured.
const DefaultSegmentSeconds = 300

func (c Config) validate() error {
	if c.Dir == "" {
		return fmt.Errorf("recorder directory not set")
	}
	if c.Prefix == "" {
		return fmt.Errorf("recorder filename prefix not set")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", c.SampleRate)
	}
	if c.SegmentSamples <= 0 {
		return fmt.Errorf("invalid segment size: %d samples", c.SegmentSamples)
	}
	return nil
}

// Recorder writes incoming sample blocks into WAV segments, rotating to a
// new file once a segment holds exactly the configured number of samples.
// Blocks spanning a segment boundary are split so no sample is lost or
// duplicated. A segment that fails mid-write is abandoned and recording
// continues with the next block in a fresh segment.
type Recorder struct {
	cfg Config

	mu        sync.Mutex
	cur       *pcm.WAVWriter
	curCount  int
	seq       int
	finalized []string
	total     uint64
	abandoned int
}

// New creates a recorder. The target directory is created if missing.
func New(cfg Config) (*Recorder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating recording directory: %w", err)
	}
	return &Recorder{cfg: cfg}, nil
}

// Write appends one block to the recording, opening and rotating segments
// as needed.
func (r *Recorder) Write(b pcm.Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	samples := b.Samples
	start := b.Timestamp
	for len(samples) > 0 {
		if r.cur == nil {
			if err := r.openSegment(start); err != nil {
				return err
			}
		}

		n := r.cfg.SegmentSamples - r.curCount
		if n > len(samples) {
			n = len(samples)
		}
		if err := r.cur.WriteSamples(samples[:n]); err != nil {
			r.abandonSegment()
			return fmt.Errorf("writing segment: %w", err)
		}
		r.curCount += n
		r.total += uint64(n)
		samples = samples[n:]
		start = start.Add(time.Duration(n) * time.Second / time.Duration(r.cfg.SampleRate))

		if r.curCount == r.cfg.SegmentSamples {
			if err := r.rotate(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Recorder) openSegment(start time.Time) error {
	r.seq++
	name := fmt.Sprintf("%s_%s_%03d.wav", r.cfg.Prefix, start.UTC().Format("20060102_150405"), r.seq)
	w, err := pcm.NewWAVWriter(filepath.Join(r.cfg.Dir, name), r.cfg.SampleRate, 1, 16)
	if err != nil {
		return fmt.Errorf("opening segment: %w", err)
	}
	r.cur = w
	r.curCount = 0
	return nil
}

func (r *Recorder) rotate() error {
	path := r.cur.Path()
	err := r.cur.Close()
	r.cur = nil
	r.curCount = 0
	if err != nil {
		r.abandoned++
		return fmt.Errorf("finalizing segment %s: %w", path, err)
	}
	r.finalized = append(r.finalized, path)
	return nil
}

// abandonSegment drops the current segment after a write failure. The
// partial file is closed on a best-effort basis and not counted as finalized.
func (r *Recorder) abandonSegment() {
	if r.cur == nil {
		return
	}
	_ = r.cur.Close()
	r.cur = nil
	r.curCount = 0
	r.abandoned++
}

// Close finalizes the open segment, if any. A short final segment is kept.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cur == nil {
		return nil
	}
	if r.curCount == 0 {
		// Nothing was written into it; remove the empty file.
		path := r.cur.Path()
		_ = r.cur.Close()
		r.cur = nil
		return os.Remove(path)
	}
	return r.rotate()
}

// Segments returns the finalized segment paths in write order.
func (r *Recorder) Segments() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.finalized...)
}

// Current returns the path of the open segment and how many samples it holds.
func (r *Recorder) Current() (path string, samples int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return "", 0, false
	}
	return r.cur.Path(), r.curCount, true
}

// TotalSamples returns the number of samples written across all segments.
func (r *Recorder) TotalSamples() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Abandoned returns the number of segments dropped due to write failures.
func (r *Recorder) Abandoned() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abandoned
}
