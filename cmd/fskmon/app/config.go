package app

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalhouse/fskmon/internal/fsk"
	"github.com/signalhouse/fskmon/internal/session"
)

// Config represents the main application configuration
type Config struct {
	Settings Settings       `yaml:"settings"`
	Stream   StreamConfig   `yaml:"stream"`
	Session  session.Config `yaml:"session"`
	FSK      FSKConfig      `yaml:"fsk"`
	Storage  StorageConfig  `yaml:"storage"`
	Server   ServerConfig   `yaml:"server"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`

	// AutoRecord and AutoWaterfall start audio archival and waterfall
	// capture as soon as the session is up.
	AutoRecord    bool `yaml:"autoRecord"`
	AutoWaterfall bool `yaml:"autoWaterfall"`
}

// Level maps the configured log level name to a slog level, defaulting to
// info.
func (s Settings) Level() slog.Level {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StreamConfig selects and tunes the sample source. Exactly one of URL and
// File must be set.
type StreamConfig struct {
	URL          string        `yaml:"url"`
	File         string        `yaml:"file"`
	Realtime     bool          `yaml:"realtime"`
	ChunkSamples int           `yaml:"chunkSamples"`
	MaxRetries   int           `yaml:"maxRetries"`
	Backoff      time.Duration `yaml:"backoff"`
}

// FSKConfig represents the tone classification settings
type FSKConfig struct {
	Mark               float64 `yaml:"mark"`
	Space              float64 `yaml:"space"`
	Carrier            float64 `yaml:"carrier"`
	Tolerance          float64 `yaml:"tolerance"`
	DetectionThreshold float64 `yaml:"detectionThreshold"`
}

func (c FSKConfig) toInternal() fsk.Config {
	cfg := fsk.DefaultConfig()
	if c.Mark != 0 {
		cfg.Tones.Mark = c.Mark
	}
	if c.Space != 0 {
		cfg.Tones.Space = c.Space
	}
	if c.Carrier != 0 {
		cfg.Tones.Carrier = c.Carrier
	}
	if c.Tolerance != 0 {
		cfg.Tolerance = c.Tolerance
	}
	if c.DetectionThreshold != 0 {
		cfg.DetectionThreshold = c.DetectionThreshold
	}
	return cfg
}

// StorageConfig represents storage settings
type StorageConfig struct {
	DataDirectory string `yaml:"dataDirectory"`
	Disabled      bool   `yaml:"disabled"`
}

// ServerConfig represents the control and metrics HTTP server settings
type ServerConfig struct {
	Listen  string `yaml:"listen"`
	Enabled bool   `yaml:"enabled"`
}

// LoadConfig reads and validates the YAML configuration file. Session
// parameters left unset take their defaults.
func LoadConfig(path string) (*Config, error) {
	config := Config{
		Session: session.DefaultConfig(),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if config.Stream.URL == "" && config.Stream.File == "" {
		return nil, fmt.Errorf("no stream source configured: set stream.url or stream.file")
	}
	if config.Stream.URL != "" && config.Stream.File != "" {
		return nil, fmt.Errorf("ambiguous stream source: set only one of stream.url and stream.file")
	}

	config.Session.FSK = config.FSK.toInternal()
	return &config, nil
}
