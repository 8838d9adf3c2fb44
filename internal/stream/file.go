package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/signalhouse/fskmon/internal/pcm"
)

// WithFileLogger sets the logger for the source.
func WithFileLogger(logger *slog.Logger) func(s *FileSource) {
	return func(s *FileSource) {
		s.logger = logger.With(slog.String("source", "file"), slog.String("path", s.path))
	}
}

// WithFileChunkSamples sets the number of samples per emitted block.
func WithFileChunkSamples(n int) func(s *FileSource) {
	return func(s *FileSource) {
		if n > 0 {
			s.chunkSamples = n
		}
	}
}

// WithRealtimePacing makes the source emit blocks at the file's natural
// playback rate instead of as fast as they can be read.
func WithRealtimePacing() func(s *FileSource) {
	return func(s *FileSource) {
		s.realtime = true
	}
}

// FileSource replays a mono 16-bit PCM WAV file as a sample stream. The
// stream ends cleanly at end of file.
type FileSource struct {
	path         string
	chunkSamples int
	realtime     bool

	sampleRate int
	dataOffset int64
	dataSize   int64

	isStreaming atomic.Bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	logger      *slog.Logger

	seq    uint64
	bytes  atomic.Uint64
	blocks atomic.Uint64
}

// NewFileSource opens the WAV file and validates its format.
func NewFileSource(path string, options ...func(s *FileSource)) (*FileSource, error) {
	s := FileSource{
		path:         path,
		chunkSamples: DefaultChunkSamples,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&s)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening WAV file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if err = s.parseHeader(f); err != nil {
		return nil, fmt.Errorf("parsing WAV file %s: %w", path, err)
	}

	return &s, nil
}

// parseHeader walks the RIFF chunks to find the format and data chunks.
func (s *FileSource) parseHeader(f *os.File) error {
	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return fmt.Errorf("reading RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return errors.New("not a WAV file")
	}

	offset := int64(12)
	var haveFmt bool
	for {
		var chunk [8]byte
		if _, err := f.ReadAt(chunk[:], offset); err != nil {
			return fmt.Errorf("reading chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))
		offset += 8

		switch id {
		case "fmt ":
			var format [16]byte
			if _, err := f.ReadAt(format[:], offset); err != nil {
				return fmt.Errorf("reading format chunk: %w", err)
			}
			if audioFormat := binary.LittleEndian.Uint16(format[0:2]); audioFormat != 1 {
				return fmt.Errorf("unsupported audio format %d, expected PCM", audioFormat)
			}
			if channels := binary.LittleEndian.Uint16(format[2:4]); channels != 1 {
				return fmt.Errorf("unsupported channel count %d, expected mono", channels)
			}
			if bits := binary.LittleEndian.Uint16(format[14:16]); bits != 16 {
				return fmt.Errorf("unsupported sample width %d bits, expected 16", bits)
			}
			s.sampleRate = int(binary.LittleEndian.Uint32(format[4:8]))
			haveFmt = true

		case "data":
			if !haveFmt {
				return errors.New("data chunk precedes format chunk")
			}
			s.dataOffset = offset
			s.dataSize = size
			return nil
		}

		// Chunks are word-aligned.
		offset += size + size%2
	}
}

// BeginStreaming replays the file, emitting sample blocks until the context
// is canceled, Stop is called, or the file is exhausted.
func (s *FileSource) BeginStreaming(ctx context.Context, blocks chan<- pcm.Block) (<-chan error, error) {
	if s.isStreaming.Load() {
		return nil, ErrAlreadyStreaming
	}

	s.isStreaming.Store(true)
	ctx, s.cancel = context.WithCancel(ctx)

	streamingStopped := make(chan error, 1)

	s.wg.Add(1)
	go func() {
		defer close(streamingStopped)

		s.logger.Info("starting file replay")
		err := s.run(ctx, blocks)
		s.logger.Info("file replay stopped")

		s.isStreaming.Store(false)
		s.wg.Done()

		if err != nil {
			streamingStopped <- err
		}
	}()

	return streamingStopped, nil
}

func (s *FileSource) run(ctx context.Context, blocks chan<- pcm.Block) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("opening WAV file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if _, err = f.Seek(s.dataOffset, io.SeekStart); err != nil {
		return fmt.Errorf("seeking to data chunk: %w", err)
	}
	data := io.LimitReader(f, s.dataSize)

	start := time.Now().UTC()
	blockPeriod := time.Duration(s.chunkSamples) * time.Second / time.Duration(s.sampleRate)
	var offset int64 // samples replayed so far

	buf := make([]byte, s.chunkSamples*2)
	for {
		n, rErr := io.ReadFull(data, buf)
		if n > 0 {
			s.bytes.Add(uint64(n))
		}
		if samples := decodeSamples(buf[:n]); len(samples) > 0 {
			b := pcm.Block{
				Seq:       s.seq,
				Timestamp: start.Add(time.Duration(offset) * time.Second / time.Duration(s.sampleRate)),
				Samples:   samples,
			}
			select {
			case blocks <- b:
				s.seq++
				s.blocks.Add(1)
				offset += int64(n / 2)
			case <-ctx.Done():
				return nil
			}
		}
		if rErr != nil {
			if errors.Is(rErr, io.EOF) || errors.Is(rErr, io.ErrUnexpectedEOF) {
				return nil // end of file, clean stop
			}
			return fmt.Errorf("reading WAV data: %w", rErr)
		}

		if s.realtime {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(blockPeriod):
			}
		}
	}
}

// Stop cancels the replay and waits for the worker to exit.
func (s *FileSource) Stop() {
	if !s.isStreaming.Load() {
		return // already stopped
	}

	s.cancel()
	s.wg.Wait()
	s.isStreaming.Store(false)
}

// IsStreaming returns true while the source is running.
func (s *FileSource) IsStreaming() bool {
	return s.isStreaming.Load()
}

// SampleRate returns the sample rate declared by the file header.
func (s *FileSource) SampleRate() int {
	return s.sampleRate
}

// Duration returns the playback length of the file.
func (s *FileSource) Duration() time.Duration {
	return time.Duration(s.dataSize/2) * time.Second / time.Duration(s.sampleRate)
}

// Stats returns a snapshot of the replay counters.
func (s *FileSource) Stats() Stats {
	return Stats{
		BytesReceived: s.bytes.Load(),
		BlocksEmitted: s.blocks.Load(),
	}
}
