package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalhouse/fskmon/internal/metrics"
	"github.com/signalhouse/fskmon/internal/session"
	"github.com/signalhouse/fskmon/internal/storage"
	"github.com/signalhouse/fskmon/internal/stream"
)

const storageDir = "data"

// Run assembles the pipeline from the configuration and monitors until the
// context is canceled.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	source, err := createSource(config, logger)
	if err != nil {
		return fmt.Errorf("creating stream source: %w", err)
	}

	var options []func(c *session.Coordinator)
	options = append(options,
		session.WithLogger(logger),
		session.WithMetrics(metrics.New(prometheus.DefaultRegisterer)),
	)

	if !config.Storage.Disabled {
		store, err := createStorage(&config.Storage)
		if err != nil {
			return fmt.Errorf("creating storage: %w", err)
		}
		defer func() {
			if cErr := store.Close(); cErr != nil {
				logger.Error("closing storage", slog.String("error", cErr.Error()))
			}
		}()
		options = append(options, session.WithStore(store))
	}

	coordinator, err := session.New(source, config.Session, options...)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	if err = coordinator.Start(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer func() {
		if sErr := coordinator.Stop(); sErr != nil {
			logger.Error("stopping session", slog.String("error", sErr.Error()))
		}
	}()

	if config.Settings.AutoWaterfall {
		if err = coordinator.StartWaterfall(); err != nil {
			return fmt.Errorf("starting waterfall capture: %w", err)
		}
	}
	if config.Settings.AutoRecord {
		if err = coordinator.StartRecording(); err != nil {
			return fmt.Errorf("starting recording: %w", err)
		}
	}

	if config.Server.Enabled {
		srv := newServer(config.Server.Listen, coordinator, logger)
		go func() {
			if sErr := srv.ListenAndServe(); sErr != nil && sErr != http.ErrServerClosed {
				logger.Error("control server failed", slog.String("error", sErr.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("control server listening", slog.String("addr", config.Server.Listen))
	}

	<-ctx.Done()
	return nil
}

func createSource(config *Config, logger *slog.Logger) (stream.Source, error) {
	if config.Stream.URL != "" {
		var options []func(s *stream.HTTPSource)
		options = append(options, stream.WithHTTPLogger(logger))
		if config.Stream.ChunkSamples > 0 {
			options = append(options, stream.WithChunkSamples(config.Stream.ChunkSamples))
		}
		if config.Stream.MaxRetries > 0 || config.Stream.Backoff > 0 {
			retries := config.Stream.MaxRetries
			if retries == 0 {
				retries = stream.DefaultMaxRetries
			}
			options = append(options, stream.WithRetryPolicy(retries, config.Stream.Backoff))
		}
		return stream.NewHTTPSource(config.Stream.URL, config.Session.SampleRate, options...)
	}

	var options []func(s *stream.FileSource)
	options = append(options, stream.WithFileLogger(logger))
	if config.Stream.ChunkSamples > 0 {
		options = append(options, stream.WithFileChunkSamples(config.Stream.ChunkSamples))
	}
	if config.Stream.Realtime {
		options = append(options, stream.WithRealtimePacing())
	}
	source, err := stream.NewFileSource(config.Stream.File, options...)
	if err != nil {
		return nil, err
	}

	// The file header, not the configuration, dictates the analysis rate.
	config.Session.SampleRate = source.SampleRate()
	return source, nil
}

func createStorage(config *StorageConfig) (*storage.Store, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current working directory: %w", err)
	}

	dbDir := filepath.Join(wd, storageDir)
	if config.DataDirectory != "" {
		dbDir = filepath.Join(wd, config.DataDirectory)
	}
	if err = os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	dbPath := filepath.Join(dbDir, fmt.Sprintf("fsk_session_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	return storage.New(dbPath), nil
}
