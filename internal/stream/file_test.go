package stream

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalhouse/fskmon/internal/pcm"
)

func writeTestWAV(t *testing.T, samples []int16, sampleRate int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.wav")
	w, err := pcm.NewWAVWriter(path, sampleRate, 1, 16)
	if err != nil {
		t.Fatalf("Failed to create WAV file: %v", err)
	}
	if err := w.WriteSamples(samples); err != nil {
		t.Fatalf("Failed to write samples: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close WAV file: %v", err)
	}
	return path
}

func drain(t *testing.T, blocks <-chan pcm.Block, stopped <-chan error) []pcm.Block {
	t.Helper()
	var got []pcm.Block
	for {
		select {
		case b := <-blocks:
			got = append(got, b)
		case err, ok := <-stopped:
			if ok && err != nil {
				t.Fatalf("Streaming failed: %v", err)
			}
			// Collect anything still buffered.
			for {
				select {
				case b := <-blocks:
					got = append(got, b)
				default:
					return got
				}
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Timed out waiting for stream to end")
		}
	}
}

func TestFileSource_ReplaysFileExactly(t *testing.T) {
	samples := make([]int16, 2500)
	for i := range samples {
		samples[i] = int16(i - 1250)
	}
	path := writeTestWAV(t, samples, 8000)

	s, err := NewFileSource(path, WithFileChunkSamples(1000))
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}
	if s.SampleRate() != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", s.SampleRate())
	}

	blocks := make(chan pcm.Block, 16)
	stopped, err := s.BeginStreaming(context.Background(), blocks)
	if err != nil {
		t.Fatalf("BeginStreaming failed: %v", err)
	}

	got := drain(t, blocks, stopped)
	if len(got) != 3 {
		t.Fatalf("Expected 3 blocks, got %d", len(got))
	}

	var rebuilt []int16
	for i, b := range got {
		if b.Seq != uint64(i) {
			t.Errorf("Block %d: expected seq %d, got %d", i, i, b.Seq)
		}
		rebuilt = append(rebuilt, b.Samples...)
	}
	if len(rebuilt) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(rebuilt))
	}
	for i := range samples {
		if rebuilt[i] != samples[i] {
			t.Fatalf("Sample %d: expected %d, got %d", i, samples[i], rebuilt[i])
		}
	}

	stats := s.Stats()
	if stats.BlocksEmitted != 3 || stats.BytesReceived != 5000 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestFileSource_CountsOddTrailingByte(t *testing.T) {
	path := writeTestWAV(t, make([]int16, 200), 8000)

	// Truncate mid-sample so the data chunk ends on a lone byte.
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat file: %v", err)
	}
	if err := os.Truncate(path, info.Size()-1); err != nil {
		t.Fatalf("Failed to truncate file: %v", err)
	}

	s, err := NewFileSource(path, WithFileChunkSamples(100))
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}

	blocks := make(chan pcm.Block, 16)
	stopped, err := s.BeginStreaming(context.Background(), blocks)
	if err != nil {
		t.Fatalf("BeginStreaming failed: %v", err)
	}

	var total int
	for _, b := range drain(t, blocks, stopped) {
		total += len(b.Samples)
	}
	if total != 199 {
		t.Errorf("Expected 199 whole samples, got %d", total)
	}
	if got := s.Stats().BytesReceived; got != 399 {
		t.Errorf("Expected 399 bytes received, got %d", got)
	}
}

func TestFileSource_StopInterruptsReplay(t *testing.T) {
	path := writeTestWAV(t, make([]int16, 100000), 8000)

	s, err := NewFileSource(path, WithFileChunkSamples(100))
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}

	// Unbuffered channel with no consumer: replay blocks on the first send.
	blocks := make(chan pcm.Block)
	stopped, err := s.BeginStreaming(context.Background(), blocks)
	if err != nil {
		t.Fatalf("BeginStreaming failed: %v", err)
	}

	s.Stop()
	if s.IsStreaming() {
		t.Error("Expected source to be stopped")
	}
	if err, ok := <-stopped; ok && err != nil {
		t.Errorf("Expected clean stop, got %v", err)
	}
}

func TestFileSource_RejectsDoubleStart(t *testing.T) {
	path := writeTestWAV(t, make([]int16, 100000), 8000)

	s, err := NewFileSource(path)
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}

	blocks := make(chan pcm.Block)
	if _, err = s.BeginStreaming(context.Background(), blocks); err != nil {
		t.Fatalf("BeginStreaming failed: %v", err)
	}
	defer s.Stop()

	if _, err = s.BeginStreaming(context.Background(), blocks); err == nil {
		t.Error("Expected error for second BeginStreaming")
	}
}

func TestFileSource_Duration(t *testing.T) {
	path := writeTestWAV(t, make([]int16, 4000), 8000)

	s, err := NewFileSource(path)
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}
	if s.Duration() != 500*time.Millisecond {
		t.Errorf("Expected duration 500ms, got %s", s.Duration())
	}
}

func TestNewFileSource_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.wav")
	if err := os.WriteFile(path, []byte("definitely not RIFF data"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := NewFileSource(path); err == nil {
		t.Error("Expected error for non-WAV file")
	}

	if _, err := NewFileSource(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("Expected error for missing file")
	}
}
