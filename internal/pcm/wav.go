package pcm

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

// wavHeader is the canonical 44-byte RIFF/WAVE header for PCM data.
type wavHeader struct {
	ChunkID   [4]byte // "RIFF"
	ChunkSize uint32
	Format    [4]byte // "WAVE"

	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16

	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// WAVWriter writes mono 16-bit PCM samples to a WAV container. A provisional
// header is written at open time and patched with the final data size on
// Close, so a closed file always carries a consistent header.
type WAVWriter struct {
	file          *os.File
	path          string
	sampleRate    int
	channels      int
	bitsPerSample int
	dataSize      int64
	closed        bool
}

// NewWAVWriter creates path and writes a provisional WAV header.
func NewWAVWriter(path string, sampleRate, channels, bitsPerSample int) (*WAVWriter, error) {
	if sampleRate <= 0 || channels <= 0 || bitsPerSample != 16 {
		return nil, fmt.Errorf("invalid WAV parameters: rate=%d, channels=%d, bits=%d", sampleRate, channels, bitsPerSample)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating WAV file: %w", err)
	}

	w := &WAVWriter{
		file:          f,
		path:          path,
		sampleRate:    sampleRate,
		channels:      channels,
		bitsPerSample: bitsPerSample,
	}
	if err = w.writeHeader(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

func (w *WAVWriter) header() wavHeader {
	h := wavHeader{
		ChunkSize:     uint32(w.dataSize + 36),
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   uint16(w.channels),
		SampleRate:    uint32(w.sampleRate),
		ByteRate:      uint32(w.sampleRate * w.channels * w.bitsPerSample / 8),
		BlockAlign:    uint16(w.channels * w.bitsPerSample / 8),
		BitsPerSample: uint16(w.bitsPerSample),
		Subchunk2Size: uint32(w.dataSize),
	}
	copy(h.ChunkID[:], "RIFF")
	copy(h.Format[:], "WAVE")
	copy(h.Subchunk1ID[:], "fmt ")
	copy(h.Subchunk2ID[:], "data")
	return h
}

func (w *WAVWriter) writeHeader() error {
	h := w.header()
	if err := binary.Write(w.file, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("writing WAV header: %w", err)
	}
	return nil
}

// WriteSamples appends samples to the data chunk.
func (w *WAVWriter) WriteSamples(samples []int16) error {
	if w.closed {
		return fmt.Errorf("writing to closed WAV file %s", w.path)
	}

	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	n, err := w.file.Write(buf)
	w.dataSize += int64(n)
	if err != nil {
		return fmt.Errorf("writing samples to %s: %w", w.path, err)
	}
	return nil
}

// SampleCount returns the number of sample frames written so far.
func (w *WAVWriter) SampleCount() int64 {
	return w.dataSize / int64(w.channels*w.bitsPerSample/8)
}

// Duration returns the audio duration written so far.
func (w *WAVWriter) Duration() time.Duration {
	return time.Duration(w.SampleCount()) * time.Second / time.Duration(w.sampleRate)
}

// Path returns the file path the writer was opened with.
func (w *WAVWriter) Path() string {
	return w.path
}

// Close patches the header with the final data size and closes the file.
// It is safe to call Close multiple times.
func (w *WAVWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var err error
	if _, err = w.file.Seek(0, 0); err == nil {
		err = w.writeHeader()
	}
	if cErr := w.file.Close(); cErr != nil && err == nil {
		err = cErr
	}
	if err != nil {
		return fmt.Errorf("finalizing WAV file %s: %w", w.path, err)
	}
	return nil
}
