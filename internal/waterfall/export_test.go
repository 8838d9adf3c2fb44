package waterfall

import (
	"bytes"
	"math"
	"testing"
)

func testBundle(t *testing.T) *Bundle {
	t.Helper()
	l, err := NewLog(10, testAxis, testMeta())
	if err != nil {
		t.Fatalf("Failed to create log: %v", err)
	}
	for i := 0; i < 6; i++ {
		e := entryAt(i)
		e.Magnitudes = []float64{
			12.345678 + float64(i),
			0.000125 * float64(i),
			45.0 / (float64(i) + 1),
		}
		if err := l.Append(e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	return l.Snapshot()
}

func requireSameShape(t *testing.T, want, got *Bundle) {
	t.Helper()
	if got.Len() != want.Len() {
		t.Fatalf("Expected %d rows, got %d", want.Len(), got.Len())
	}
	if len(got.Frequencies) != len(want.Frequencies) {
		t.Fatalf("Expected %d frequency bins, got %d", len(want.Frequencies), len(got.Frequencies))
	}
}

func requireExactRoundTrip(t *testing.T, want, got *Bundle) {
	t.Helper()
	requireSameShape(t, want, got)

	for i := range want.Timestamps {
		if got.Timestamps[i].UnixNano() != want.Timestamps[i].UnixNano() {
			t.Errorf("Row %d: timestamp %v != %v", i, got.Timestamps[i], want.Timestamps[i])
		}
		if got.Levels[i] != want.Levels[i] {
			t.Errorf("Row %d: audio level %v != %v", i, got.Levels[i], want.Levels[i])
		}
		if got.SampleRates[i] != want.SampleRates[i] {
			t.Errorf("Row %d: sample rate %d != %d", i, got.SampleRates[i], want.SampleRates[i])
		}
		for j := range want.Frequencies {
			if got.Magnitudes[i][j] != want.Magnitudes[i][j] {
				t.Errorf("Cell %d/%d: magnitude %v != %v", i, j, got.Magnitudes[i][j], want.Magnitudes[i][j])
			}
		}
	}
	for j := range want.Frequencies {
		if got.Frequencies[j] != want.Frequencies[j] {
			t.Errorf("Bin %d: frequency %v != %v", j, got.Frequencies[j], want.Frequencies[j])
		}
	}
	if got.Meta != want.Meta {
		t.Errorf("Metadata differs:\n  got  %+v\n  want %+v", got.Meta, want.Meta)
	}
}

func TestExport_BinaryRoundTripExact(t *testing.T) {
	want := testBundle(t)

	var buf bytes.Buffer
	if err := Export(&buf, want, FormatBinary); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	got, err := Import(&buf, FormatBinary)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	requireExactRoundTrip(t, want, got)
}

func TestExport_JSONRoundTripExact(t *testing.T) {
	want := testBundle(t)

	var buf bytes.Buffer
	if err := Export(&buf, want, FormatJSON); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	got, err := Import(&buf, FormatJSON)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	requireExactRoundTrip(t, want, got)
}

func TestExport_CSVRoundTripWithinTolerance(t *testing.T) {
	want := testBundle(t)

	var buf bytes.Buffer
	if err := Export(&buf, want, FormatCSV); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	got, err := Import(&buf, FormatCSV)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	requireSameShape(t, want, got)

	const tol = 1e-6
	for i := range want.Timestamps {
		if got.Timestamps[i].UnixNano() != want.Timestamps[i].UnixNano() {
			t.Errorf("Row %d: timestamp %v != %v", i, got.Timestamps[i], want.Timestamps[i])
		}
		if math.Abs(got.Levels[i]-want.Levels[i]) > tol {
			t.Errorf("Row %d: audio level %v != %v", i, got.Levels[i], want.Levels[i])
		}
		if got.SampleRates[i] != want.SampleRates[i] {
			t.Errorf("Row %d: sample rate %d != %d", i, got.SampleRates[i], want.SampleRates[i])
		}
		for j := range want.Frequencies {
			if math.Abs(got.Magnitudes[i][j]-want.Magnitudes[i][j]) > tol {
				t.Errorf("Cell %d/%d: magnitude %v not within %g of %v", i, j, got.Magnitudes[i][j], tol, want.Magnitudes[i][j])
			}
		}
	}
	for j := range want.Frequencies {
		if math.Abs(got.Frequencies[j]-want.Frequencies[j]) > tol {
			t.Errorf("Bin %d: frequency %v not within %g of %v", j, got.Frequencies[j], tol, want.Frequencies[j])
		}
	}

	if got.Meta.SessionID != want.Meta.SessionID {
		t.Errorf("Expected session ID %q, got %q", want.Meta.SessionID, got.Meta.SessionID)
	}
	if got.Meta.SessionStart.UnixNano() != want.Meta.SessionStart.UnixNano() {
		t.Errorf("Expected session start %v, got %v", want.Meta.SessionStart, got.Meta.SessionStart)
	}
	if got.Meta.SampleRate != want.Meta.SampleRate {
		t.Errorf("Expected sample rate %d, got %d", want.Meta.SampleRate, got.Meta.SampleRate)
	}
	if got.Meta.MarkTone != want.Meta.MarkTone || got.Meta.CarrierTone != want.Meta.CarrierTone {
		t.Errorf("Tone metadata differs: %+v vs %+v", got.Meta, want.Meta)
	}
}

func TestExport_EmptyBundle(t *testing.T) {
	l, err := NewLog(10, testAxis, testMeta())
	if err != nil {
		t.Fatalf("Failed to create log: %v", err)
	}
	want := l.Snapshot()

	for _, f := range []Format{FormatBinary, FormatJSON} {
		var buf bytes.Buffer
		if err := Export(&buf, want, f); err != nil {
			t.Fatalf("%s: export of empty bundle failed: %v", f, err)
		}
		got, err := Import(&buf, f)
		if err != nil {
			t.Fatalf("%s: import of empty bundle failed: %v", f, err)
		}
		if got.Len() != 0 {
			t.Errorf("%s: expected empty bundle, got %d rows", f, got.Len())
		}
	}
}

func TestImport_RejectsBadBinaryMagic(t *testing.T) {
	if _, err := Import(bytes.NewReader([]byte("not a bundle at all")), FormatBinary); err == nil {
		t.Error("Expected error for garbage binary input")
	}
}

func TestParseFormat(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want Format
	}{
		{"binary", FormatBinary},
		{"JSON", FormatJSON},
		{" csv ", FormatCSV},
	} {
		got, err := ParseFormat(tt.in)
		if err != nil {
			t.Errorf("ParseFormat(%q) failed: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, expected %q", tt.in, got, tt.want)
		}
	}

	if _, err := ParseFormat("parquet"); err == nil {
		t.Error("Expected error for unsupported format")
	}
}
