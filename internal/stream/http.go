package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/signalhouse/fskmon/internal/pcm"
)

const (
	// DefaultMaxRetries is the number of consecutive reconnection attempts
	// before the stream is declared ended.
	DefaultMaxRetries = 5

	defaultBackoff    = time.Second
	defaultMaxBackoff = 30 * time.Second
)

// WithHTTPLogger sets the logger for the source.
func WithHTTPLogger(logger *slog.Logger) func(s *HTTPSource) {
	return func(s *HTTPSource) {
		s.logger = logger.With(slog.String("source", "http"), slog.String("url", s.url))
	}
}

// WithHTTPClient sets the HTTP client used for stream requests.
func WithHTTPClient(client *http.Client) func(s *HTTPSource) {
	return func(s *HTTPSource) {
		s.client = client
	}
}

// WithChunkSamples sets the number of samples per emitted block.
func WithChunkSamples(n int) func(s *HTTPSource) {
	return func(s *HTTPSource) {
		if n > 0 {
			s.chunkSamples = n
		}
	}
}

// WithRetryPolicy sets the reconnection limit and the base backoff delay.
// The delay doubles per consecutive failure up to a fixed cap.
func WithRetryPolicy(maxRetries int, backoff time.Duration) func(s *HTTPSource) {
	return func(s *HTTPSource) {
		s.maxRetries = maxRetries
		if backoff > 0 {
			s.backoff = backoff
		}
	}
}

// HTTPSource streams raw 16-bit little-endian PCM over a chunked HTTP
// response. Dropped connections are retried with exponential backoff; a
// successful read resets the retry budget.
type HTTPSource struct {
	url          string
	sampleRate   int
	chunkSamples int
	client       *http.Client
	maxRetries   int
	backoff      time.Duration
	maxBackoff   time.Duration

	isStreaming atomic.Bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	logger      *slog.Logger

	seq        uint64
	bytes      atomic.Uint64
	blocks     atomic.Uint64
	reconnects atomic.Uint64
}

// NewHTTPSource creates a source for the given stream URL, with a discard
// logger unless one is provided.
func NewHTTPSource(url string, sampleRate int, options ...func(s *HTTPSource)) (*HTTPSource, error) {
	if url == "" {
		return nil, fmt.Errorf("stream URL not set")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	s := HTTPSource{
		url:          url,
		sampleRate:   sampleRate,
		chunkSamples: DefaultChunkSamples,
		client:       http.DefaultClient,
		maxRetries:   DefaultMaxRetries,
		backoff:      defaultBackoff,
		maxBackoff:   defaultMaxBackoff,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&s)
	}

	return &s, nil
}

// BeginStreaming connects to the endpoint and emits sample blocks until the
// context is canceled, Stop is called, or reconnection attempts run out.
func (s *HTTPSource) BeginStreaming(ctx context.Context, blocks chan<- pcm.Block) (<-chan error, error) {
	if s.isStreaming.Load() {
		return nil, ErrAlreadyStreaming
	}

	s.isStreaming.Store(true)
	ctx, s.cancel = context.WithCancel(ctx)

	streamingStopped := make(chan error, 1)

	s.wg.Add(1)
	go func() {
		defer close(streamingStopped)

		s.logger.Info("starting stream")
		err := s.run(ctx, blocks)
		s.logger.Info("stream stopped")

		s.isStreaming.Store(false)
		s.wg.Done()

		if err != nil {
			streamingStopped <- err
		}
	}()

	return streamingStopped, nil
}

func (s *HTTPSource) run(ctx context.Context, blocks chan<- pcm.Block) error {
	var attempt int
	var lastErr error

	for {
		received, err := s.streamOnce(ctx, blocks)
		if ctx.Err() != nil {
			return nil
		}
		if received {
			attempt = 0
		}
		lastErr = err

		attempt++
		if attempt > s.maxRetries {
			return fmt.Errorf("%w: %d consecutive connection failures: %w", ErrStreamEnded, s.maxRetries, lastErr)
		}
		s.reconnects.Add(1)

		delay := s.backoff << (attempt - 1)
		if delay > s.maxBackoff {
			delay = s.maxBackoff
		}
		s.logger.Warn("stream interrupted, reconnecting",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// streamOnce runs one connection to completion. It reports whether any
// payload was received, so the retry budget only counts dead connections.
func (s *HTTPSource) streamOnce(ctx context.Context, blocks chan<- pcm.Block) (received bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("connecting to stream: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected stream status: %s", resp.Status)
	}

	buf := make([]byte, s.chunkSamples*2)
	for {
		n, rErr := io.ReadFull(resp.Body, buf)
		if n > 0 {
			received = true
			s.bytes.Add(uint64(n))
			if samples := decodeSamples(buf[:n]); len(samples) > 0 {
				if sErr := s.emit(ctx, blocks, samples); sErr != nil {
					return received, sErr
				}
			}
		}
		if rErr != nil {
			if errors.Is(rErr, io.EOF) || errors.Is(rErr, io.ErrUnexpectedEOF) {
				return received, fmt.Errorf("stream connection closed: %w", rErr)
			}
			return received, fmt.Errorf("reading stream: %w", rErr)
		}
	}
}

func (s *HTTPSource) emit(ctx context.Context, blocks chan<- pcm.Block, samples []int16) error {
	b := pcm.Block{
		Seq:       s.seq,
		Timestamp: time.Now().UTC(),
		Samples:   samples,
	}
	select {
	case blocks <- b:
		s.seq++
		s.blocks.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels streaming and waits for the worker to exit.
func (s *HTTPSource) Stop() {
	if !s.isStreaming.Load() {
		return // already stopped
	}

	s.cancel()
	s.wg.Wait()
	s.isStreaming.Store(false)
}

// IsStreaming returns true while the source is running.
func (s *HTTPSource) IsStreaming() bool {
	return s.isStreaming.Load()
}

// SampleRate returns the configured stream sample rate.
func (s *HTTPSource) SampleRate() int {
	return s.sampleRate
}

// Stats returns a snapshot of the transport counters.
func (s *HTTPSource) Stats() Stats {
	return Stats{
		BytesReceived: s.bytes.Load(),
		BlocksEmitted: s.blocks.Load(),
		Reconnects:    s.reconnects.Load(),
	}
}
