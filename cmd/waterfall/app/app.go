package app

import (
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"os"

	"github.com/signalhouse/fskmon/internal/storage"
	"github.com/signalhouse/fskmon/internal/waterfall"
)

// Run loads the bundle, prints its summary and produces the optional
// spectrogram image and bit stream dump.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	f, err := os.Open(config.InputFile)
	if err != nil {
		return fmt.Errorf("opening bundle: %w", err)
	}
	bundle, err := waterfall.Import(f, config.BundleFormat)
	f.Close()
	if err != nil {
		return fmt.Errorf("importing bundle: %w", err)
	}

	if config.Verbose {
		logger.Info("bundle loaded",
			slog.String("file", config.InputFile),
			slog.String("format", string(config.BundleFormat)),
			slog.Int("rows", bundle.Len()),
			slog.Int("bins", len(bundle.Frequencies)),
			slog.String("session", bundle.Meta.SessionID))
	}

	report := NewReport(bundle)
	if err = report.Write(os.Stdout, bundle.Meta); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	if config.OutputFile != "" {
		if err = renderImage(config, bundle, logger); err != nil {
			return err
		}
	}

	if config.ExportFile != "" {
		if err = reexportBundle(config, bundle, logger); err != nil {
			return err
		}
	}

	if config.DBPath != "" {
		if err = dumpSession(ctx, config, logger); err != nil {
			return err
		}
	}
	return nil
}

func renderImage(config *Config, bundle *waterfall.Bundle, logger *slog.Logger) error {
	var bounds *MagnitudeBounds
	if config.MinMagnitude != nil || config.MaxMagnitude != nil {
		bounds = &MagnitudeBounds{}
		if config.MinMagnitude != nil {
			bounds.Min = *config.MinMagnitude
		}
		if config.MaxMagnitude != nil {
			bounds.Max = *config.MaxMagnitude
		}
	}

	fontFile := config.FontFile
	if config.NoAnnotations {
		fontFile = ""
	}
	renderer := NewSpectrogramRenderer(RenderConfig{
		CellWidth:  config.CellWidth,
		CellHeight: config.CellHeight,
		Theme:      config.Theme,
		Bounds:     bounds,
		FontFile:   fontFile,
		Location:   config.TimeZone,
	})

	logger.Info("rendering spectrogram",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("theme", string(config.Theme)),
			slog.Bool("annotated", fontFile != ""),
		))

	img, err := renderer.Render(bundle)
	if err != nil {
		return fmt.Errorf("rendering spectrogram: %w", err)
	}

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}
	if err = png.Encode(out, img); err != nil {
		out.Close()
		return fmt.Errorf("encoding image: %w", err)
	}
	return out.Close()
}

func reexportBundle(config *Config, bundle *waterfall.Bundle, logger *slog.Logger) error {
	out, err := os.Create(config.ExportFile)
	if err != nil {
		return err
	}
	if err = waterfall.Export(out, bundle, config.ExportFormat); err != nil {
		out.Close()
		return fmt.Errorf("re-exporting bundle: %w", err)
	}
	if err = out.Close(); err != nil {
		return err
	}

	logger.Info("bundle re-exported",
		slog.String("destination", config.ExportFile),
		slog.String("format", string(config.ExportFormat)))
	return nil
}

func dumpSession(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.New(config.DBPath)
	defer store.Close()

	session, err := store.Session(ctx, config.SessionID)
	if err != nil {
		return fmt.Errorf("loading session %d: %w", config.SessionID, err)
	}
	logger.Info("session found",
		slog.String("uid", session.SessionUID),
		slog.Int("sampleRate", session.SampleRate))

	if config.BitsFile == "" {
		return nil
	}

	out, err := os.Create(config.BitsFile)
	if err != nil {
		return err
	}
	count, err := dumpBits(ctx, store, config.SessionID, out)
	if err != nil {
		out.Close()
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}

	logger.Info("bit stream written",
		slog.String("destination", config.BitsFile),
		slog.Int("bits", count))
	return nil
}
