package app

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/signalhouse/fskmon/internal/fsk"
	"github.com/signalhouse/fskmon/internal/waterfall"
)

// testBundle holds six rows over a three-bin axis: two mark, two space and
// two carrier windows, matching one 0 bit and one 1 bit.
func testBundle() *waterfall.Bundle {
	axis := []float64{20, 24, 28}
	base := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	b := &waterfall.Bundle{
		Frequencies: axis,
		Meta: waterfall.Metadata{
			SessionID:          "test-session",
			SessionStart:       base,
			SampleRate:         4096,
			WindowSize:         1024,
			DetectionThreshold: 15.0,
			StrongThreshold:    45.0,
			ToneTolerance:      0.5,
			MarkTone:           20,
			SpaceTone:          24,
			CarrierTone:        28,
		},
	}
	for i, peak := range []int{0, 0, 1, 1, 2, 2} {
		mags := []float64{1, 1, 1}
		mags[peak] = 50
		b.Timestamps = append(b.Timestamps, base.Add(time.Duration(i)*250*time.Millisecond))
		b.Magnitudes = append(b.Magnitudes, mags)
		b.SampleRates = append(b.SampleRates, 4096)
		b.Levels = append(b.Levels, 0.5)
	}
	return b
}

func TestNewReport_ReplaysClassification(t *testing.T) {
	r := NewReport(testBundle())

	if !r.Classified {
		t.Fatal("Expected classification to run")
	}
	if r.Rows != 6 {
		t.Errorf("Expected 6 rows, got %d", r.Rows)
	}
	for _, state := range []fsk.State{fsk.StateMark, fsk.StateSpace, fsk.StateCarrier} {
		if r.StateCounts[state] != 2 {
			t.Errorf("Expected 2 %s rows, got %d", state, r.StateCounts[state])
		}
	}
	if r.Bits != 2 || r.Ones != 1 {
		t.Errorf("Expected 2 bits with 1 one, got %d/%d", r.Bits, r.Ones)
	}
	if r.Strong != 6 {
		t.Errorf("Expected 6 strong rows, got %d", r.Strong)
	}

	// Peak per bin is the injected 50, average sits between 1 and 50.
	for _, bin := range r.Bins {
		if bin.Peak != 50 {
			t.Errorf("Expected bin peak 50 at %.0fHz, got %.2f", bin.Frequency, bin.Peak)
		}
		if bin.Average <= 1 || bin.Average >= 50 {
			t.Errorf("Unexpected bin average at %.0fHz: %.2f", bin.Frequency, bin.Average)
		}
	}

	var buf bytes.Buffer
	if err := r.Write(&buf, testBundle().Meta); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"test-session", "6 rows", "Decoded 2 bits", "carrier"} {
		if !strings.Contains(out, want) {
			t.Errorf("Report output missing %q:\n%s", want, out)
		}
	}
}

func TestNewReport_SkipsClassificationWithoutMetadata(t *testing.T) {
	b := testBundle()
	b.Meta = waterfall.Metadata{}

	r := NewReport(b)
	if r.Classified {
		t.Error("Expected classification to be skipped without parameters")
	}
	if r.Bits != 0 || len(r.StateCounts) != 0 {
		t.Errorf("Expected no decoded bits, got %d bits and %v", r.Bits, r.StateCounts)
	}

	var buf bytes.Buffer
	if err := r.Write(&buf, b.Meta); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !strings.Contains(buf.String(), "occupancy skipped") {
		t.Errorf("Expected skip notice in report:\n%s", buf.String())
	}
}

func TestSpectrogramRenderer_RenderWithoutFont(t *testing.T) {
	b := testBundle()
	renderer := NewSpectrogramRenderer(RenderConfig{
		CellWidth:  10,
		CellHeight: 4,
		Theme:      GrayscaleTheme,
	})

	img, err := renderer.Render(b)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	// No font means no borders: the image is exactly the scaled grid.
	bounds := img.Bounds()
	if bounds.Dx() != 3*10 || bounds.Dy() != 6*4 {
		t.Errorf("Expected 30x24 image, got %dx%d", bounds.Dx(), bounds.Dy())
	}

	// The injected peak in row 0 bin 0 must be brighter than the floor.
	peakR, _, _, _ := img.At(5, 2).RGBA()
	floorR, _, _, _ := img.At(15, 2).RGBA()
	if peakR <= floorR {
		t.Errorf("Expected peak pixel brighter than floor: %d <= %d", peakR, floorR)
	}
}

func TestSpectrogramRenderer_RejectsEmptyBundle(t *testing.T) {
	renderer := NewSpectrogramRenderer(RenderConfig{})
	if _, err := renderer.Render(&waterfall.Bundle{}); err == nil {
		t.Error("Expected error for empty bundle")
	}
}

func TestResolveFormat(t *testing.T) {
	tests := []struct {
		path, name string
		want       waterfall.Format
		wantErr    bool
	}{
		{"capture.fwf", "", waterfall.FormatBinary, false},
		{"capture.json", "", waterfall.FormatJSON, false},
		{"capture.CSV", "", waterfall.FormatCSV, false},
		{"capture.dat", "", waterfall.FormatBinary, false},
		{"capture.fwf", "json", waterfall.FormatJSON, false},
		{"capture.txt", "", "", true},
		{"capture.fwf", "parquet", "", true},
	}
	for _, tt := range tests {
		got, err := resolveFormat(tt.path, tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("resolveFormat(%q, %q): expected error", tt.path, tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("resolveFormat(%q, %q): %v", tt.path, tt.name, err)
		} else if got != tt.want {
			t.Errorf("resolveFormat(%q, %q) = %q, want %q", tt.path, tt.name, got, tt.want)
		}
	}
}
