package session

import (
	"fmt"
	"time"

	"github.com/signalhouse/fskmon/internal/fsk"
)

// Config holds the analysis and persistence parameters of a session.
type Config struct {
	SampleRate    int     `yaml:"sampleRate"`
	WindowSize    int     `yaml:"windowSize"`
	WindowOverlap int     `yaml:"windowOverlap"`
	BandLow       float64 `yaml:"bandLow"`
	BandHigh      float64 `yaml:"bandHigh"`

	FSK             fsk.Config `yaml:"-"`
	StrongThreshold float64    `yaml:"strongThreshold"`

	RingCapacity      int `yaml:"ringCapacity"`
	WaterfallCapacity int `yaml:"waterfallCapacity"`

	SegmentSeconds  int    `yaml:"segmentSeconds"`
	RecordingDir    string `yaml:"recordingDir"`
	RecordingPrefix string `yaml:"recordingPrefix"`

	BatchSize     int           `yaml:"batchSize"`
	FlushInterval time.Duration `yaml:"flushInterval"`
}

// DefaultConfig returns the parameters tuned for the monitored channel.
func DefaultConfig() Config {
	return Config{
		SampleRate:        44100,
		WindowSize:        8192,
		WindowOverlap:     0,
		BandLow:           20,
		BandHigh:          35,
		FSK:               fsk.DefaultConfig(),
		StrongThreshold:   45.0,
		RingCapacity:      256,
		WaterfallCapacity: 1000,
		SegmentSeconds:    300,
		RecordingDir:      "recordings",
		RecordingPrefix:   "capture",
		BatchSize:         100,
		FlushInterval:     5 * time.Second,
	}
}

func (c Config) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", c.SampleRate)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("invalid window size: %d", c.WindowSize)
	}
	if c.WindowOverlap < 0 || c.WindowOverlap >= c.WindowSize {
		return fmt.Errorf("invalid window overlap: %d", c.WindowOverlap)
	}
	if c.BandLow >= c.BandHigh {
		return fmt.Errorf("invalid analysis band: %g-%gHz", c.BandLow, c.BandHigh)
	}
	if c.StrongThreshold < c.FSK.DetectionThreshold {
		return fmt.Errorf("strong threshold %g below detection threshold %g", c.StrongThreshold, c.FSK.DetectionThreshold)
	}
	if c.RingCapacity <= 0 {
		return fmt.Errorf("invalid ring capacity: %d", c.RingCapacity)
	}
	if c.WaterfallCapacity <= 0 {
		return fmt.Errorf("invalid waterfall capacity: %d", c.WaterfallCapacity)
	}
	if c.SegmentSeconds <= 0 {
		return fmt.Errorf("invalid segment duration: %ds", c.SegmentSeconds)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("invalid batch size: %d", c.BatchSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("invalid flush interval: %s", c.FlushInterval)
	}
	return nil
}
