package dsp

import (
	"math"
	"testing"
	"time"

	"github.com/signalhouse/fskmon/internal/pcm"
)

func sineWindow(freq float64, sampleRate, size int, amplitude float64) pcm.Window {
	samples := make([]int16, size)
	for i := range samples {
		samples[i] = int16(amplitude * 32767.0 * math.Sin(2.0*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return pcm.Window{Start: time.Unix(100, 0), Samples: samples}
}

func TestAnalyzer_AxisFixedAtConstruction(t *testing.T) {
	a, err := NewAnalyzer(44100, 8192, 20, 35)
	if err != nil {
		t.Fatalf("Failed to create analyzer: %v", err)
	}

	df := 44100.0 / 8192.0
	axis := a.Axis()
	if len(axis) == 0 {
		t.Fatal("Expected non-empty axis")
	}
	if axis[0] < 20 || axis[len(axis)-1] > 35 {
		t.Errorf("Axis %v outside 20-35Hz band", axis)
	}
	for i := 1; i < len(axis); i++ {
		if diff := axis[i] - axis[i-1]; math.Abs(diff-df) > 1e-9 {
			t.Errorf("Bin spacing %f, expected %f", diff, df)
		}
	}

	// The three reference tones land on consecutive bins at this resolution.
	want := []float64{4 * df, 5 * df, 6 * df}
	if len(axis) != len(want) {
		t.Fatalf("Expected %d bins, got %d", len(want), len(axis))
	}
	for i := range want {
		if math.Abs(axis[i]-want[i]) > 1e-9 {
			t.Errorf("Bin %d: expected %.4fHz, got %.4fHz", i, want[i], axis[i])
		}
	}
}

func TestAnalyzer_PeakAtToneFrequency(t *testing.T) {
	a, err := NewAnalyzer(44100, 8192, 20, 35)
	if err != nil {
		t.Fatalf("Failed to create analyzer: %v", err)
	}

	for _, tone := range []float64{21.53, 26.92, 32.30} {
		f, err := a.Analyze(sineWindow(tone, 44100, 8192, 0.5))
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		if len(f.Magnitudes) != len(a.Axis()) {
			t.Fatalf("Magnitude vector length %d != axis length %d", len(f.Magnitudes), len(a.Axis()))
		}

		peak, peakMag, ok := PeakBin(f.Magnitudes)
		if !ok {
			t.Fatal("Expected a peak")
		}
		if peakMag <= 0 {
			t.Errorf("Tone %.2fHz: expected positive peak magnitude, got %f", tone, peakMag)
		}
		if got := a.Axis()[peak]; math.Abs(got-tone) > a.Resolution()/2 {
			t.Errorf("Tone %.2fHz: peak at %.2fHz, more than half a bin away", tone, got)
		}
	}
}

func TestAnalyzer_MagnitudesNonNegative(t *testing.T) {
	a, err := NewAnalyzer(44100, 8192, 20, 35)
	if err != nil {
		t.Fatalf("Failed to create analyzer: %v", err)
	}

	f, err := a.Analyze(sineWindow(27.0, 44100, 8192, 0.8))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	for i, m := range f.Magnitudes {
		if m < 0 {
			t.Errorf("Bin %d: negative magnitude %f", i, m)
		}
	}
	if f.Timestamp != time.Unix(100, 0) {
		t.Errorf("Frame timestamp not taken from window: %v", f.Timestamp)
	}
}

func TestAnalyzer_RMSLevel(t *testing.T) {
	a, err := NewAnalyzer(44100, 8192, 20, 35)
	if err != nil {
		t.Fatalf("Failed to create analyzer: %v", err)
	}

	silence := pcm.Window{Start: time.Now(), Samples: make([]int16, 8192)}
	f, err := a.Analyze(silence)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if f.Level != 0 {
		t.Errorf("Expected zero level for silence, got %f", f.Level)
	}

	// A full-scale sine has RMS ~1/sqrt(2).
	f, err = a.Analyze(sineWindow(1000, 44100, 8192, 1.0))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if math.Abs(f.Level-1.0/math.Sqrt2) > 0.01 {
		t.Errorf("Expected RMS ~%.3f for full-scale sine, got %f", 1.0/math.Sqrt2, f.Level)
	}
}

func TestAnalyzer_DeterministicAcrossCalls(t *testing.T) {
	a, err := NewAnalyzer(44100, 8192, 20, 35)
	if err != nil {
		t.Fatalf("Failed to create analyzer: %v", err)
	}

	w := sineWindow(26.92, 44100, 8192, 0.5)
	f1, err := a.Analyze(w)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	// An unrelated window in between must not influence the next result.
	if _, err = a.Analyze(sineWindow(21.53, 44100, 8192, 0.9)); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	f2, err := a.Analyze(w)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	for i := range f1.Magnitudes {
		if f1.Magnitudes[i] != f2.Magnitudes[i] {
			t.Fatalf("Bin %d: magnitudes differ between identical windows", i)
		}
	}
}

func TestAnalyzer_RejectsWrongWindowSize(t *testing.T) {
	a, err := NewAnalyzer(44100, 8192, 20, 35)
	if err != nil {
		t.Fatalf("Failed to create analyzer: %v", err)
	}
	if _, err = a.Analyze(pcm.Window{Samples: make([]int16, 4096)}); err == nil {
		t.Error("Expected error for wrong window size")
	}
}

func TestNewAnalyzer_RejectsEmptyBand(t *testing.T) {
	if _, err := NewAnalyzer(44100, 8192, 22, 23); err == nil {
		t.Error("Expected error for band with no bins")
	}
	if _, err := NewAnalyzer(44100, 8192, 35, 20); err == nil {
		t.Error("Expected error for inverted band")
	}
}
