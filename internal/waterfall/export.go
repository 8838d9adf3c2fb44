package waterfall

import (
	"bufio"
	"encoding/binary"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Format selects one of the interchangeable export serializations.
type Format string

const (
	// FormatBinary is a compact little-endian array container. Array values
	// survive a round trip bit-identically.
	FormatBinary Format = "binary"

	// FormatJSON is a generic object-graph serialization.
	FormatJSON Format = "json"

	// FormatCSV is a delimited-text serialization, one row per time/frequency
	// cell. Magnitudes are formatted with fixed precision, so a round trip is
	// tolerance-bounded rather than exact.
	FormatCSV Format = "csv"
)

// ErrUnknownFormat is returned for format names outside the supported set.
var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat maps a format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatBinary:
		return FormatBinary, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Ext returns the conventional file extension for the format.
func (f Format) Ext() string {
	switch f {
	case FormatBinary:
		return ".fwf"
	case FormatJSON:
		return ".json"
	case FormatCSV:
		return ".csv"
	}
	return ".dat"
}

// Export serializes the bundle to w in the given format.
func Export(w io.Writer, b *Bundle, f Format) error {
	switch f {
	case FormatBinary:
		return exportBinary(w, b)
	case FormatJSON:
		return exportJSON(w, b)
	case FormatCSV:
		return exportCSV(w, b)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// Import deserializes a bundle previously written by Export in the same format.
func Import(r io.Reader, f Format) (*Bundle, error) {
	switch f {
	case FormatBinary:
		return importBinary(r)
	case FormatJSON:
		return importJSON(r)
	case FormatCSV:
		return importCSV(r)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// Binary container layout: magic, version, length-prefixed JSON metadata,
// row/bin counts, then the raw arrays in little-endian order.
var binaryMagic = [4]byte{'F', 'S', 'K', 'W'}

const binaryVersion uint16 = 1

func exportBinary(w io.Writer, b *Bundle) error {
	bw := bufio.NewWriter(w)

	meta, err := json.Marshal(b.Meta)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	nanos := make([]int64, len(b.Timestamps))
	for i, ts := range b.Timestamps {
		nanos[i] = ts.UnixNano()
	}
	rates := make([]int32, len(b.SampleRates))
	for i, sr := range b.SampleRates {
		rates[i] = int32(sr)
	}

	for _, v := range []any{
		binaryMagic, binaryVersion,
		uint32(len(meta)), meta,
		uint32(len(b.Timestamps)), uint32(len(b.Frequencies)),
		nanos, b.Frequencies,
	} {
		if err = binary.Write(bw, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("writing binary bundle: %w", err)
		}
	}
	for _, row := range b.Magnitudes {
		if err = binary.Write(bw, binary.LittleEndian, row); err != nil {
			return fmt.Errorf("writing binary bundle: %w", err)
		}
	}
	for _, v := range []any{rates, b.Levels} {
		if err = binary.Write(bw, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("writing binary bundle: %w", err)
		}
	}
	return bw.Flush()
}

func importBinary(r io.Reader) (*Bundle, error) {
	br := bufio.NewReader(r)

	var magic [4]byte
	var version uint16
	if err := binary.Read(br, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("reading binary bundle: %w", err)
	}
	if magic != binaryMagic {
		return nil, fmt.Errorf("not a waterfall bundle (bad magic %q)", magic)
	}
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("reading binary bundle: %w", err)
	}
	if version != binaryVersion {
		return nil, fmt.Errorf("unsupported bundle version %d", version)
	}

	var metaLen uint32
	if err := binary.Read(br, binary.LittleEndian, &metaLen); err != nil {
		return nil, fmt.Errorf("reading binary bundle: %w", err)
	}
	meta := make([]byte, metaLen)
	if _, err := io.ReadFull(br, meta); err != nil {
		return nil, fmt.Errorf("reading binary bundle: %w", err)
	}

	b := &Bundle{}
	if err := json.Unmarshal(meta, &b.Meta); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}

	var n, m uint32
	if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("reading binary bundle: %w", err)
	}
	if err := binary.Read(br, binary.LittleEndian, &m); err != nil {
		return nil, fmt.Errorf("reading binary bundle: %w", err)
	}

	nanos := make([]int64, n)
	b.Frequencies = make([]float64, m)
	if err := binary.Read(br, binary.LittleEndian, nanos); err != nil {
		return nil, fmt.Errorf("reading binary bundle: %w", err)
	}
	if err := binary.Read(br, binary.LittleEndian, b.Frequencies); err != nil {
		return nil, fmt.Errorf("reading binary bundle: %w", err)
	}

	b.Timestamps = make([]time.Time, n)
	for i, ns := range nanos {
		b.Timestamps[i] = time.Unix(0, ns).UTC()
	}

	b.Magnitudes = make([][]float64, n)
	for i := range b.Magnitudes {
		b.Magnitudes[i] = make([]float64, m)
		if err := binary.Read(br, binary.LittleEndian, b.Magnitudes[i]); err != nil {
			return nil, fmt.Errorf("reading binary bundle: %w", err)
		}
	}

	rates := make([]int32, n)
	b.Levels = make([]float64, n)
	if err := binary.Read(br, binary.LittleEndian, rates); err != nil {
		return nil, fmt.Errorf("reading binary bundle: %w", err)
	}
	if err := binary.Read(br, binary.LittleEndian, b.Levels); err != nil {
		return nil, fmt.Errorf("reading binary bundle: %w", err)
	}

	b.SampleRates = make([]int, n)
	for i, sr := range rates {
		b.SampleRates[i] = int(sr)
	}
	return b, nil
}

type bundleJSON struct {
	Meta         Metadata    `json:"metadata"`
	TimestampsNS []int64     `json:"timestampsNs"`
	Frequencies  []float64   `json:"frequencies"`
	Magnitudes   [][]float64 `json:"magnitudes"`
	SampleRates  []int       `json:"sampleRates"`
	AudioLevels  []float64   `json:"audioLevels"`
}

func exportJSON(w io.Writer, b *Bundle) error {
	nanos := make([]int64, len(b.Timestamps))
	for i, ts := range b.Timestamps {
		nanos[i] = ts.UnixNano()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(bundleJSON{
		Meta:         b.Meta,
		TimestampsNS: nanos,
		Frequencies:  b.Frequencies,
		Magnitudes:   b.Magnitudes,
		SampleRates:  b.SampleRates,
		AudioLevels:  b.Levels,
	}); err != nil {
		return fmt.Errorf("writing JSON bundle: %w", err)
	}
	return nil
}

func importJSON(r io.Reader) (*Bundle, error) {
	var doc bundleJSON
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("reading JSON bundle: %w", err)
	}

	b := &Bundle{
		Timestamps:  make([]time.Time, len(doc.TimestampsNS)),
		Frequencies: doc.Frequencies,
		Magnitudes:  doc.Magnitudes,
		SampleRates: doc.SampleRates,
		Levels:      doc.AudioLevels,
		Meta:        doc.Meta,
	}
	for i, ns := range doc.TimestampsNS {
		b.Timestamps[i] = time.Unix(0, ns).UTC()
	}
	return b, nil
}

func exportCSV(w io.Writer, b *Bundle) error {
	bw := bufio.NewWriter(w)

	meta := []string{
		fmt.Sprintf("# session_id=%s", b.Meta.SessionID),
		fmt.Sprintf("# session_start_ns=%d", b.Meta.SessionStart.UnixNano()),
		fmt.Sprintf("# sample_rate=%d", b.Meta.SampleRate),
		fmt.Sprintf("# window_size=%d", b.Meta.WindowSize),
		fmt.Sprintf("# detection_threshold=%g", b.Meta.DetectionThreshold),
		fmt.Sprintf("# strong_threshold=%g", b.Meta.StrongThreshold),
		fmt.Sprintf("# tone_tolerance=%g", b.Meta.ToneTolerance),
		fmt.Sprintf("# tones=%g,%g,%g", b.Meta.MarkTone, b.Meta.SpaceTone, b.Meta.CarrierTone),
	}
	for _, line := range meta {
		if _, err := fmt.Fprintln(bw, line); err != nil {
			return fmt.Errorf("writing CSV bundle: %w", err)
		}
	}

	cw := csv.NewWriter(bw)
	if err := cw.Write([]string{"timestamp_ns", "frequency_hz", "magnitude", "audio_level", "sample_rate"}); err != nil {
		return fmt.Errorf("writing CSV bundle: %w", err)
	}
	for i, ts := range b.Timestamps {
		nanos := strconv.FormatInt(ts.UnixNano(), 10)
		level := strconv.FormatFloat(b.Levels[i], 'f', 6, 64)
		rate := strconv.Itoa(b.SampleRates[i])
		for j, freq := range b.Frequencies {
			record := []string{
				nanos,
				strconv.FormatFloat(freq, 'f', 6, 64),
				strconv.FormatFloat(b.Magnitudes[i][j], 'f', 6, 64),
				level,
				rate,
			}
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("writing CSV bundle: %w", err)
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing CSV bundle: %w", err)
	}
	return bw.Flush()
}

func importCSV(r io.Reader) (*Bundle, error) {
	b := &Bundle{}

	cr := csv.NewReader(newCSVMetaReader(r, &b.Meta))
	cr.Comment = '#'
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV bundle: %w", err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("empty CSV bundle")
	}

	// Skip the header row; group cell rows by timestamp.
	var curNanos int64
	var curRow []float64
	flush := func() {
		if curRow == nil {
			return
		}
		b.Timestamps = append(b.Timestamps, time.Unix(0, curNanos).UTC())
		b.Magnitudes = append(b.Magnitudes, curRow)
		curRow = nil
	}
	for _, rec := range records[1:] {
		if len(rec) != 5 {
			return nil, fmt.Errorf("malformed CSV row: %v", rec)
		}
		nanos, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp %q: %w", rec[0], err)
		}
		freq, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parsing frequency %q: %w", rec[1], err)
		}
		mag, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("parsing magnitude %q: %w", rec[2], err)
		}

		if curRow == nil || nanos != curNanos {
			flush()
			curNanos = nanos
			curRow = make([]float64, 0, len(b.Frequencies))

			level, err := strconv.ParseFloat(rec[3], 64)
			if err != nil {
				return nil, fmt.Errorf("parsing audio level %q: %w", rec[3], err)
			}
			rate, err := strconv.Atoi(rec[4])
			if err != nil {
				return nil, fmt.Errorf("parsing sample rate %q: %w", rec[4], err)
			}
			b.Levels = append(b.Levels, level)
			b.SampleRates = append(b.SampleRates, rate)
		}
		if len(b.Magnitudes) == 0 {
			// Axis is taken from the first time row.
			b.Frequencies = append(b.Frequencies, freq)
		}
		curRow = append(curRow, mag)
	}
	flush()

	for i, row := range b.Magnitudes {
		if len(row) != len(b.Frequencies) {
			return nil, fmt.Errorf("time row %d has %d cells, expected %d", i, len(row), len(b.Frequencies))
		}
	}
	return b, nil
}

// csvMetaReader passes data through unchanged while harvesting the leading
// "# key=value" comment lines into a Metadata record.
type csvMetaReader struct {
	r    *bufio.Reader
	meta *Metadata
	done bool
}

func newCSVMetaReader(r io.Reader, meta *Metadata) io.Reader {
	return &csvMetaReader{r: bufio.NewReader(r), meta: meta}
}

func (m *csvMetaReader) Read(p []byte) (int, error) {
	if !m.done {
		for {
			peek, err := m.r.Peek(1)
			if err != nil || peek[0] != '#' {
				break
			}
			line, err := m.r.ReadString('\n')
			m.parseLine(line)
			if err != nil {
				break
			}
		}
		m.done = true
	}
	return m.r.Read(p)
}

func (m *csvMetaReader) parseLine(line string) {
	line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "#"))
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return
	}

	switch key {
	case "session_id":
		m.meta.SessionID = value
	case "session_start_ns":
		if ns, err := strconv.ParseInt(value, 10, 64); err == nil {
			m.meta.SessionStart = time.Unix(0, ns).UTC()
		}
	case "sample_rate":
		m.meta.SampleRate, _ = strconv.Atoi(value)
	case "window_size":
		m.meta.WindowSize, _ = strconv.Atoi(value)
	case "detection_threshold":
		m.meta.DetectionThreshold, _ = strconv.ParseFloat(value, 64)
	case "strong_threshold":
		m.meta.StrongThreshold, _ = strconv.ParseFloat(value, 64)
	case "tone_tolerance":
		m.meta.ToneTolerance, _ = strconv.ParseFloat(value, 64)
	case "tones":
		parts := strings.Split(value, ",")
		if len(parts) == 3 {
			m.meta.MarkTone, _ = strconv.ParseFloat(parts[0], 64)
			m.meta.SpaceTone, _ = strconv.ParseFloat(parts[1], 64)
			m.meta.CarrierTone, _ = strconv.ParseFloat(parts[2], 64)
		}
	}
}
