// Package session wires the stream source, ring buffer, spectral analysis,
// FSK decoding, waterfall logging, audio archival and persistence into one
// coordinated monitoring session.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/signalhouse/fskmon/internal/dsp"
	"github.com/signalhouse/fskmon/internal/fsk"
	"github.com/signalhouse/fskmon/internal/metrics"
	"github.com/signalhouse/fskmon/internal/pcm"
	"github.com/signalhouse/fskmon/internal/recorder"
	"github.com/signalhouse/fskmon/internal/storage"
	"github.com/signalhouse/fskmon/internal/stream"
	"github.com/signalhouse/fskmon/internal/waterfall"
)

var (
	// ErrAlreadyRunning is returned when Start is called on a running session.
	ErrAlreadyRunning = errors.New("session is already running")

	// ErrNotRunning is returned for operations that require a running session.
	ErrNotRunning = errors.New("session is not running")

	// ErrAlreadyRecording is returned when recording is started twice.
	ErrAlreadyRecording = errors.New("recording is already active")

	// ErrNotRecording is returned when recording is stopped while inactive.
	ErrNotRecording = errors.New("recording is not active")

	// ErrWaterfallActive is returned when waterfall logging is started twice.
	ErrWaterfallActive = errors.New("waterfall logging is already active")

	// ErrWaterfallInactive is returned when waterfall logging is stopped
	// while inactive.
	ErrWaterfallInactive = errors.New("waterfall logging is not active")

	// ErrNoWaterfall is returned when exporting before any waterfall data
	// was captured in this session.
	ErrNoWaterfall = errors.New("no waterfall data captured")
)

// WithLogger sets the logger for the coordinator.
func WithLogger(logger *slog.Logger) func(c *Coordinator) {
	return func(c *Coordinator) {
		c.logger = logger.With(slog.String("component", "session"))
	}
}

// WithStore enables persistence of bit events and spectrum summaries.
func WithStore(store *storage.Store) func(c *Coordinator) {
	return func(c *Coordinator) {
		c.store = store
	}
}

// WithMetrics sets the metric collectors the pipeline updates.
func WithMetrics(m *metrics.Metrics) func(c *Coordinator) {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// Coordinator owns a monitoring session: it pumps blocks from the stream
// source into the ring buffer and runs the analysis pipeline over one
// cursor, with recording attachable on a second cursor at any time.
type Coordinator struct {
	cfg     Config
	source  stream.Source
	store   *storage.Store
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	isRunning atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	sessionID   string
	dbSessionID int64
	startTime   time.Time
	ring        *pcm.Ring
	analyzer    *dsp.Analyzer

	// Recording worker, attachable while running.
	recording bool
	rec       *recorder.Recorder
	recCancel context.CancelFunc
	recWG     sync.WaitGroup
	recStatus RecordingStatus // last known state, survives StopRecording

	// Waterfall log, attachable while running. A stopped log is retained
	// for export until replaced. Guarded by its own mutex because the
	// analysis worker reads it on every frame; wfMu is never held across
	// a worker join.
	wfMu     sync.Mutex
	wfActive bool
	wfLog    *waterfall.Log

	// Live classification state, updated by the analysis worker.
	live struct {
		sync.Mutex
		frames    uint64
		lastFrame time.Time
		state     fsk.State
		freq      float64
		magnitude float64
		level     float64
		bits      uint64
		ones      uint64
		counts    map[string]uint64
		streamErr string
	}
}

// New creates a coordinator for the given source. Metrics default to a
// standalone unregistered set and the logger to discard unless provided.
func New(source stream.Source, cfg Config, options ...func(c *Coordinator)) (*Coordinator, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	c := Coordinator{
		cfg:     cfg,
		source:  source,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		metrics: metrics.New(nil),                               // unregistered collectors
	}
	c.live.counts = make(map[string]uint64)

	for _, option := range options {
		option(&c)
	}

	return &c, nil
}

// Start begins streaming and analysis. It returns ErrAlreadyRunning if the
// session is active.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isRunning.Load() {
		return ErrAlreadyRunning
	}

	analyzer, err := dsp.NewAnalyzer(c.cfg.SampleRate, c.cfg.WindowSize, c.cfg.BandLow, c.cfg.BandHigh)
	if err != nil {
		return fmt.Errorf("creating analyzer: %w", err)
	}

	c.sessionID = uuid.NewString()
	c.startTime = time.Now().UTC()
	c.analyzer = analyzer

	decoder, err := fsk.NewDecoder(analyzer.Axis(), c.startTime, c.cfg.FSK)
	if err != nil {
		return fmt.Errorf("creating decoder: %w", err)
	}

	ring, err := pcm.NewRing(c.cfg.RingCapacity)
	if err != nil {
		return fmt.Errorf("creating ring buffer: %w", err)
	}
	c.ring = ring

	if c.store != nil {
		cfgJSON, mErr := json.Marshal(c.cfg)
		if mErr != nil {
			return fmt.Errorf("marshaling session config: %w", mErr)
		}
		c.dbSessionID, err = c.store.CreateSession(ctx, storage.SessionRecord{
			SessionUID: c.sessionID,
			StartTime:  c.startTime,
			SampleRate: c.cfg.SampleRate,
			WindowSize: c.cfg.WindowSize,
			Config:     sql.NullString{String: string(cfgJSON), Valid: true},
		})
		if err != nil {
			return fmt.Errorf("creating session record: %w", err)
		}
	}

	ctx, c.cancel = context.WithCancel(ctx)

	blocks := make(chan pcm.Block, 16)
	streamStopped, err := c.source.BeginStreaming(ctx, blocks)
	if err != nil {
		c.cancel()
		return fmt.Errorf("starting stream: %w", err)
	}

	c.isRunning.Store(true)
	c.resetLive()

	c.wg.Add(2)
	go c.pump(ctx, blocks, streamStopped)
	go c.analyze(ctx, decoder)

	c.logger.Info("session started",
		slog.String("sessionID", c.sessionID),
		slog.Int("sampleRate", c.cfg.SampleRate),
		slog.Int("windowSize", c.cfg.WindowSize),
	)
	return nil
}

// Stop ends the session, stopping recording first if it is active. It
// returns ErrNotRunning if the session is idle.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning.Load() {
		return ErrNotRunning
	}

	if c.recording {
		c.stopRecordingLocked()
	}
	c.wfMu.Lock()
	c.wfActive = false
	c.wfMu.Unlock()

	c.cancel()
	c.source.Stop()
	c.ring.Close()
	c.wg.Wait()
	c.isRunning.Store(false)

	c.logger.Info("session stopped", slog.String("sessionID", c.sessionID))
	return nil
}

// IsRunning returns true while the session is active.
func (c *Coordinator) IsRunning() bool {
	return c.isRunning.Load()
}

// pump moves blocks from the source into the ring buffer. If the source
// terminates on its own, the ring is closed so downstream workers drain
// and park.
func (c *Coordinator) pump(ctx context.Context, blocks <-chan pcm.Block, streamStopped <-chan error) {
	defer c.wg.Done()

	for {
		select {
		case b := <-blocks:
			c.ring.Push(b)
			c.metrics.StreamBytesTotal.Add(float64(len(b.Samples) * 2))

		case err, ok := <-streamStopped:
			if ok && err != nil {
				c.logger.Error("stream terminated", slog.String("error", err.Error()))
				c.live.Lock()
				c.live.streamErr = err.Error()
				c.live.Unlock()
			}
			// Drain anything still buffered before closing the ring.
			for {
				select {
				case b := <-blocks:
					c.ring.Push(b)
				default:
					c.ring.Close()
					return
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

// analyze runs the spectral analysis and decoding loop over its own ring
// cursor, batching persistence writes.
func (c *Coordinator) analyze(ctx context.Context, decoder *fsk.Decoder) {
	defer c.wg.Done()

	cursor := c.ring.NewCursor("analyzer")

	var bitBatch []storage.BitEventRecord
	var spectrumBatch []storage.SpectrumRecord
	lastFlush := time.Now()
	var prevOverflow, prevDropped, prevReconnects uint64

	flush := func() {
		if c.store == nil {
			return
		}
		// Flushes run on a background context so a canceled session still
		// persists its tail.
		if err := c.store.InsertBitEvents(context.Background(), bitBatch); err != nil {
			c.logger.Error("persisting bit events", slog.String("error", err.Error()))
			c.metrics.StorageErrorsTotal.Inc()
		}
		if err := c.store.InsertSpectra(context.Background(), spectrumBatch); err != nil {
			c.logger.Error("persisting spectra", slog.String("error", err.Error()))
			c.metrics.StorageErrorsTotal.Inc()
		}
		bitBatch = bitBatch[:0]
		spectrumBatch = spectrumBatch[:0]
		lastFlush = time.Now()
	}
	defer flush()

	for {
		w, err := cursor.NextWindow(ctx, c.cfg.WindowSize, c.cfg.WindowOverlap)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, pcm.ErrRingClosed) {
				c.logger.Error("reading windows", slog.String("error", err.Error()))
			}
			return
		}

		frame, err := c.analyzer.Analyze(w)
		if err != nil {
			c.logger.Error("analyzing window", slog.String("error", err.Error()))
			continue
		}

		state, ev := decoder.Process(frame)
		_, freq, magnitude := fsk.Classify(c.analyzer.Axis(), frame.Magnitudes, c.cfg.FSK)

		c.updateLive(decoder, frame.Timestamp, state, freq, magnitude, frame.Level)

		c.metrics.FramesTotal.WithLabelValues(state.String()).Inc()
		c.metrics.AudioLevel.Set(frame.Level)
		c.metrics.PeakMagnitude.Set(magnitude)
		if d := c.ring.Overflow() - prevOverflow; d > 0 {
			c.metrics.BufferOverflowsTotal.Add(float64(d))
			prevOverflow += d
		}
		if d := cursor.Dropped() - prevDropped; d > 0 {
			c.metrics.BufferDroppedTotal.WithLabelValues("analyzer").Add(float64(d))
			prevDropped += d
		}
		if d := c.source.Stats().Reconnects - prevReconnects; d > 0 {
			c.metrics.StreamReconnects.Add(float64(d))
			prevReconnects += d
		}

		if ev != nil {
			c.metrics.BitsTotal.WithLabelValues(fmt.Sprintf("%d", ev.Bit)).Inc()
			c.logger.Debug("bit decoded",
				slog.Int("bit", ev.Bit),
				slog.Uint64("index", ev.Index),
				slog.Float64("frequency", ev.Frequency),
			)
			if c.store != nil {
				bitBatch = append(bitBatch, storage.BitEventRecord{
					SessionID:   c.dbSessionID,
					Timestamp:   ev.Timestamp,
					SessionTime: ev.SessionTime,
					Bit:         ev.Bit,
					Frequency:   ev.Frequency,
					BitNumber:   int64(ev.Index),
				})
			}
		}

		if c.store != nil {
			rec := storage.SpectrumRecord{
				SessionID:   c.dbSessionID,
				Timestamp:   frame.Timestamp,
				SessionTime: frame.Timestamp.Sub(c.startTime),
				State:       state.String(),
				AudioLevel:  frame.Level,
			}
			if state != fsk.StateNoSignal || magnitude >= c.cfg.FSK.DetectionThreshold {
				rec.PeakFrequency = sql.NullFloat64{Float64: freq, Valid: true}
				rec.PeakMagnitude = sql.NullFloat64{Float64: magnitude, Valid: true}
			}
			spectrumBatch = append(spectrumBatch, rec)
		}

		c.appendWaterfall(frame)

		if len(spectrumBatch) >= c.cfg.BatchSize || len(bitBatch) >= c.cfg.BatchSize ||
			time.Since(lastFlush) >= c.cfg.FlushInterval {
			flush()
		}
	}
}

func (c *Coordinator) resetLive() {
	c.live.Lock()
	defer c.live.Unlock()
	c.live.frames = 0
	c.live.lastFrame = time.Time{}
	c.live.state = fsk.StateNoSignal
	c.live.freq = 0
	c.live.magnitude = 0
	c.live.level = 0
	c.live.bits = 0
	c.live.ones = 0
	c.live.counts = make(map[string]uint64)
	c.live.streamErr = ""
}

func (c *Coordinator) updateLive(decoder *fsk.Decoder, ts time.Time, state fsk.State, freq, magnitude, level float64) {
	c.live.Lock()
	defer c.live.Unlock()
	c.live.frames++
	c.live.lastFrame = ts
	c.live.state = state
	c.live.freq = freq
	c.live.magnitude = magnitude
	c.live.level = level
	c.live.bits = decoder.BitCount()
	c.live.ones = decoder.OnesCount()
	c.live.counts[state.String()]++
}

func (c *Coordinator) appendWaterfall(frame dsp.Frame) {
	c.wfMu.Lock()
	log := c.wfLog
	active := c.wfActive
	c.wfMu.Unlock()
	if !active {
		return
	}

	err := log.Append(waterfall.Entry{
		Timestamp:   frame.Timestamp,
		SessionTime: frame.Timestamp.Sub(c.startTime),
		Magnitudes:  frame.Magnitudes,
		Level:       frame.Level,
		SampleRate:  c.cfg.SampleRate,
	})
	if err != nil {
		c.logger.Error("appending waterfall entry", slog.String("error", err.Error()))
		return
	}
	c.metrics.WaterfallEntries.Set(float64(log.Len()))
}

// StartWaterfall begins capturing spectrum rows into a bounded waterfall
// log, replacing any previously captured data.
func (c *Coordinator) StartWaterfall() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning.Load() {
		return ErrNotRunning
	}
	c.wfMu.Lock()
	active := c.wfActive
	c.wfMu.Unlock()
	if active {
		return ErrWaterfallActive
	}

	log, err := waterfall.NewLog(c.cfg.WaterfallCapacity, c.analyzer.Axis(), waterfall.Metadata{
		SessionID:          c.sessionID,
		SessionStart:       c.startTime,
		SampleRate:         c.cfg.SampleRate,
		WindowSize:         c.cfg.WindowSize,
		DetectionThreshold: c.cfg.FSK.DetectionThreshold,
		StrongThreshold:    c.cfg.StrongThreshold,
		ToneTolerance:      c.cfg.FSK.Tolerance,
		MarkTone:           c.cfg.FSK.Tones.Mark,
		SpaceTone:          c.cfg.FSK.Tones.Space,
		CarrierTone:        c.cfg.FSK.Tones.Carrier,
	})
	if err != nil {
		return fmt.Errorf("creating waterfall log: %w", err)
	}

	c.wfMu.Lock()
	c.wfLog = log
	c.wfActive = true
	c.wfMu.Unlock()
	c.logger.Info("waterfall logging started", slog.Int("capacity", c.cfg.WaterfallCapacity))
	return nil
}

// StopWaterfall stops capture. Captured data remains exportable until the
// next StartWaterfall or session start.
func (c *Coordinator) StopWaterfall() error {
	c.wfMu.Lock()
	defer c.wfMu.Unlock()

	if !c.wfActive {
		return ErrWaterfallInactive
	}
	c.wfActive = false
	c.logger.Info("waterfall logging stopped", slog.Int("entries", c.wfLog.Len()))
	return nil
}

// ExportWaterfall writes a snapshot of the captured waterfall to w in the
// given format. Capture may continue concurrently.
func (c *Coordinator) ExportWaterfall(w io.Writer, format waterfall.Format) error {
	c.wfMu.Lock()
	log := c.wfLog
	c.wfMu.Unlock()

	if log == nil {
		return ErrNoWaterfall
	}
	if err := waterfall.Export(w, log.Snapshot(), format); err != nil {
		return fmt.Errorf("exporting waterfall: %w", err)
	}
	return nil
}

// StartRecording attaches a recording worker on its own ring cursor, so it
// only archives blocks captured from this point on.
func (c *Coordinator) StartRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning.Load() {
		return ErrNotRunning
	}
	if c.recording {
		return ErrAlreadyRecording
	}

	rec, err := recorder.New(recorder.Config{
		Dir:            c.cfg.RecordingDir,
		Prefix:         c.cfg.RecordingPrefix,
		SampleRate:     c.cfg.SampleRate,
		SegmentSamples: c.cfg.SampleRate * c.cfg.SegmentSeconds,
	})
	if err != nil {
		return fmt.Errorf("creating recorder: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cursor := c.ring.NewLiveCursor("recorder")
	c.rec = rec
	c.recCancel = cancel
	c.recording = true

	c.recWG.Add(1)
	go func() {
		defer c.recWG.Done()
		var prevDropped uint64
		for {
			b, err := cursor.Next(ctx)
			if err != nil {
				return
			}
			if d := cursor.Dropped() - prevDropped; d > 0 {
				c.metrics.BufferDroppedTotal.WithLabelValues("recorder").Add(float64(d))
				prevDropped += d
			}
			// A failed write abandons the segment; the session continues
			// and the next block lands in a fresh file.
			if err := rec.Write(b); err != nil {
				c.logger.Error("writing recording", slog.String("error", err.Error()))
				c.metrics.SegmentsAbandonedTotal.Inc()
				continue
			}
			c.metrics.SamplesRecordedTotal.Add(float64(len(b.Samples)))
		}
	}()

	c.logger.Info("recording started",
		slog.String("dir", c.cfg.RecordingDir),
		slog.Int("segmentSeconds", c.cfg.SegmentSeconds),
	)
	return nil
}

// StopRecording detaches the recording worker and finalizes the open
// segment.
func (c *Coordinator) StopRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.recording {
		return ErrNotRecording
	}
	c.stopRecordingLocked()
	return nil
}

func (c *Coordinator) stopRecordingLocked() {
	c.recCancel()
	c.recWG.Wait()

	if err := c.rec.Close(); err != nil {
		c.logger.Error("finalizing recording", slog.String("error", err.Error()))
	}
	c.metrics.SegmentsTotal.Add(float64(len(c.rec.Segments())))

	c.recStatus = RecordingStatus{
		Segments:          len(c.rec.Segments()),
		TotalSamples:      c.rec.TotalSamples(),
		AbandonedSegments: c.rec.Abandoned(),
	}
	c.rec = nil
	c.recording = false
	c.logger.Info("recording stopped",
		slog.Int("segments", c.recStatus.Segments),
		slog.Uint64("samples", c.recStatus.TotalSamples),
	)
}

// Status returns a consistent snapshot of the session.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		SessionID: c.sessionID,
		Running:   c.isRunning.Load(),
		StartTime: c.startTime,
	}
	if s.Running {
		s.Elapsed = time.Since(c.startTime)
	}
	if c.ring != nil {
		s.BufferOverflows = c.ring.Overflow()
	}
	s.Stream = c.source.Stats()

	c.live.Lock()
	s.FramesAnalyzed = c.live.frames
	s.LastFrameTime = c.live.lastFrame
	s.State = c.live.state.String()
	s.PeakFrequency = c.live.freq
	s.PeakMagnitude = c.live.magnitude
	s.AudioLevel = c.live.level
	s.BitCount = c.live.bits
	s.OnesCount = c.live.ones
	s.StrongSignal = c.live.magnitude >= c.cfg.StrongThreshold
	s.StreamError = c.live.streamErr
	s.FrameCounts = make(map[string]uint64, len(c.live.counts))
	for k, v := range c.live.counts {
		s.FrameCounts[k] = v
	}
	c.live.Unlock()

	c.wfMu.Lock()
	if c.wfLog != nil {
		s.Waterfall = WaterfallStatus{
			Active:  c.wfActive,
			Entries: c.wfLog.Len(),
			Total:   c.wfLog.Total(),
		}
	}
	c.wfMu.Unlock()

	s.Recording = c.recStatus
	if c.recording {
		s.Recording.Active = true
		s.Recording.Segments = len(c.rec.Segments())
		s.Recording.TotalSamples = c.rec.TotalSamples()
		s.Recording.AbandonedSegments = c.rec.Abandoned()
		if path, n, ok := c.rec.Current(); ok {
			s.Recording.CurrentPath = path
			s.Recording.CurrentSamples = n
		}
	}

	return s
}

// SessionID returns the UUID assigned at the last Start.
func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}
