package app

import (
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/signalhouse/fskmon/internal/waterfall"
)

type Config struct {
	InputFile    string
	BundleFormat waterfall.Format

	// Image rendering; disabled when OutputFile is empty.
	OutputFile    string
	FontFile      string
	Theme         ColorTheme
	CellWidth     int
	CellHeight    int
	MinMagnitude  *float64
	MaxMagnitude  *float64
	NoAnnotations bool
	TimeZone      *time.Location

	// Bundle re-export into another format, resolved from the extension.
	ExportFile   string
	ExportFormat waterfall.Format

	// Decoded bit dump; requires a session database.
	DBPath    string
	SessionID int64
	BitsFile  string

	Verbose bool
}

func NewConfig() *Config {
	return &Config{
		Theme:      ClassicTheme,
		CellWidth:  defaultCellWidth,
		CellHeight: defaultCellHeight,
		TimeZone:   time.Local,
	}
}

func NewConfigFromCLI() (*Config, error) {
	c := NewConfig()

	var bundleFormat, theme, timeZone string
	var minMag, maxMag float64
	flag.StringVar(&c.InputFile, "i", "", "Path to the waterfall bundle file")
	flag.StringVar(&bundleFormat, "f", "", "Bundle format, detected from the file extension when omitted. [binary, json, csv]")
	flag.StringVar(&c.OutputFile, "o", "", "Path to the output spectrogram image, without extension (optional)")
	flag.StringVar(&c.FontFile, "font", "", "Path to a TTF font for image annotations (optional)")
	flag.StringVar(&theme, "theme", string(ClassicTheme), "Color theme. [classic, grayscale, thermal]")
	flag.IntVar(&c.CellWidth, "cell-width", defaultCellWidth, "Width of one frequency bin in pixels")
	flag.IntVar(&c.CellHeight, "cell-height", defaultCellHeight, "Height of one spectrum row in pixels")
	flag.Float64Var(&minMag, "min-mag", 0, "Define a manual minimum magnitude (format nn.n)")
	flag.Float64Var(&maxMag, "max-mag", 0, "Define a manual maximum magnitude (format nn.n)")
	flag.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable annotations such as time and frequency scales")
	flag.StringVar(&timeZone, "tz", "", "Timezone for time display (e.g. UTC, Australia/Sydney)")
	flag.StringVar(&c.ExportFile, "export", "", "Re-export the bundle to this path; format follows the extension (.fwf, .json, .csv)")
	flag.StringVar(&c.DBPath, "db", "", "Path to the session database file (optional)")
	flag.Int64Var(&c.SessionID, "s", 1, "Session ID within the database")
	flag.StringVar(&c.BitsFile, "bits", "", "Path to write the decoded bit stream to (requires -db)")
	flag.BoolVar(&c.Verbose, "verbose", false, "Enable more verbose output")
	flag.Parse()

	flag.Visit(func(f *flag.Flag) {
		if f.Name == "min-mag" {
			c.MinMagnitude = &minMag
		}
		if f.Name == "max-mag" {
			c.MaxMagnitude = &maxMag
		}
	})

	if err := c.resolve(bundleFormat, theme, timeZone); err != nil {
		flag.Usage()
		return nil, err
	}

	return c, nil
}

func (c *Config) resolve(bundleFormat, theme, timeZone string) error {
	if c.InputFile == "" {
		return errors.New("input bundle file is required")
	}

	var err error
	if c.BundleFormat, err = resolveFormat(c.InputFile, bundleFormat); err != nil {
		return err
	}
	if _, ok := colorThemes[ColorTheme(theme)]; !ok {
		return fmt.Errorf("invalid color theme: %s", theme)
	}
	c.Theme = ColorTheme(theme)

	if c.CellWidth <= 0 || c.CellHeight <= 0 {
		return errors.New("cell dimensions must be positive")
	}
	if c.ExportFile != "" {
		if c.ExportFormat, err = resolveFormat(c.ExportFile, ""); err != nil {
			return err
		}
	}
	if c.BitsFile != "" && c.DBPath == "" {
		return errors.New("bit stream dump requires a session database (-db)")
	}
	if c.DBPath != "" && c.SessionID <= 0 {
		return errors.New("session id is required")
	}
	if timeZone != "" {
		if c.TimeZone, err = time.LoadLocation(timeZone); err != nil {
			return err
		}
	}

	if c.OutputFile != "" {
		c.OutputFile += ".png"
	}
	return nil
}

// resolveFormat prefers an explicit format name, falling back to the bundle
// file extension.
func resolveFormat(path, name string) (waterfall.Format, error) {
	if name != "" {
		return waterfall.ParseFormat(name)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".fwf", ".dat", ".bin":
		return waterfall.FormatBinary, nil
	case ".json":
		return waterfall.FormatJSON, nil
	case ".csv":
		return waterfall.FormatCSV, nil
	default:
		return "", fmt.Errorf("cannot detect bundle format from %q: pass -f", filepath.Base(path))
	}
}
