package app

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"

	"github.com/signalhouse/fskmon/internal/waterfall"
)

const (
	dpi            = 120.0
	fontSize       = 12.0
	tickMarkLength = 5

	defaultCellWidth  = 120
	defaultCellHeight = 2

	// Default border sizes in pixels
	defaultTopBorder    = 40
	defaultLeftBorder   = 90
	defaultBottomBorder = 40
	defaultRightBorder  = 40

	defaultTimeFormat     = "15:04:05"
	defaultDatetimeFormat = time.DateTime
)

// BorderConfig defines the sizes of white space around the spectrogram.
type BorderConfig struct {
	Top    int // Space for frequency scale
	Left   int // Space for time scale
	Bottom int // Space for information bar
	Right  int // Right padding
}

// RenderConfig holds all configuration options for spectrogram rendering.
type RenderConfig struct {
	// Geometry: each bundle cell becomes a CellWidth x CellHeight block.
	CellWidth  int
	CellHeight int

	// Visual configuration
	Theme  ColorTheme
	Bounds *MagnitudeBounds // Manual magnitude range (nil for auto)

	// Annotations are drawn only when a font file is given.
	FontFile       string
	TimeFormat     string
	DatetimeFormat string
	Location       *time.Location

	BorderConfig BorderConfig
}

// SpectrogramRenderer turns a waterfall bundle into an annotated image.
type SpectrogramRenderer struct {
	config RenderConfig
}

// NewSpectrogramRenderer creates a renderer with the given configuration.
func NewSpectrogramRenderer(config RenderConfig) *SpectrogramRenderer {
	if config.CellWidth <= 0 {
		config.CellWidth = defaultCellWidth
	}
	if config.CellHeight <= 0 {
		config.CellHeight = defaultCellHeight
	}
	if config.TimeFormat == "" {
		config.TimeFormat = defaultTimeFormat
	}
	if config.DatetimeFormat == "" {
		config.DatetimeFormat = defaultDatetimeFormat
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.FontFile != "" {
		if config.BorderConfig.Top == 0 {
			config.BorderConfig.Top = defaultTopBorder
		}
		if config.BorderConfig.Left == 0 {
			config.BorderConfig.Left = defaultLeftBorder
		}
		if config.BorderConfig.Bottom == 0 {
			config.BorderConfig.Bottom = defaultBottomBorder
		}
		if config.BorderConfig.Right == 0 {
			config.BorderConfig.Right = defaultRightBorder
		}
	}

	return &SpectrogramRenderer{config: config}
}

// Render creates an image of the bundle's magnitude grid, newest row at the
// bottom. Annotations are skipped when no font is configured.
func (r *SpectrogramRenderer) Render(b *waterfall.Bundle) (*image.RGBA, error) {
	if b.Len() == 0 {
		return nil, fmt.Errorf("empty waterfall bundle")
	}

	width := len(b.Frequencies) * r.config.CellWidth
	height := b.Len() * r.config.CellHeight
	borders := r.config.BorderConfig

	img := image.NewRGBA(image.Rect(0, 0, width+borders.Left+borders.Right, height+borders.Top+borders.Bottom))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	area := image.Rect(borders.Left, borders.Top, borders.Left+width, borders.Top+height)

	bounds := r.magnitudeBounds(b)
	colorMap := NewColorMapper(r.config.Theme, bounds)
	r.renderGrid(img, area, b, colorMap)

	if r.config.FontFile != "" {
		ann, err := newAnnotator(r.config)
		if err != nil {
			return nil, fmt.Errorf("creating annotator: %w", err)
		}
		defer ann.Close()

		if err = ann.annotate(img, area, b); err != nil {
			return nil, fmt.Errorf("drawing annotations: %w", err)
		}
	}

	return img, nil
}

// magnitudeBounds returns the configured manual bounds or scans the grid.
func (r *SpectrogramRenderer) magnitudeBounds(b *waterfall.Bundle) MagnitudeBounds {
	if r.config.Bounds != nil {
		return *r.config.Bounds
	}

	bounds := MagnitudeBounds{Min: b.Magnitudes[0][0], Max: b.Magnitudes[0][0]}
	for _, row := range b.Magnitudes {
		for _, m := range row {
			bounds.Min = min(bounds.Min, m)
			bounds.Max = max(bounds.Max, m)
		}
	}
	return bounds
}

func (r *SpectrogramRenderer) renderGrid(img *image.RGBA, area image.Rectangle, b *waterfall.Bundle, colorMap *ColorMapper) {
	for row, mags := range b.Magnitudes {
		y0 := area.Min.Y + row*r.config.CellHeight
		for bin, m := range mags {
			x0 := area.Min.X + bin*r.config.CellWidth
			c := colorMap.GetColor(m)
			for y := y0; y < y0+r.config.CellHeight; y++ {
				for x := x0; x < x0+r.config.CellWidth; x++ {
					img.Set(x, y, c)
				}
			}
		}
	}
}

// Internal annotator implementation

type annotator struct {
	context  *freetype.Context
	config   RenderConfig
	fontFace font.Face
}

func newAnnotator(config RenderConfig) (*annotator, error) {
	fontBytes, err := os.ReadFile(config.FontFile)
	if err != nil {
		return nil, fmt.Errorf("reading font file: %w", err)
	}
	parsedFont, err := freetype.ParseFont(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(fontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    fontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, area image.Rectangle, b *waterfall.Bundle) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	if err := a.drawFrequencyScale(img, area, b); err != nil {
		return fmt.Errorf("drawing frequency scale: %w", err)
	}
	if err := a.drawTimeScale(img, area, b); err != nil {
		return fmt.Errorf("drawing time scale: %w", err)
	}
	if err := a.drawInfoBar(img, b); err != nil {
		return fmt.Errorf("drawing info bar: %w", err)
	}
	return nil
}

// drawFrequencyScale labels every bin center. The axis is a handful of FFT
// bins, not a continuous sweep, so a nice-step scale would mislabel them.
func (a *annotator) drawFrequencyScale(img *image.RGBA, area image.Rectangle, b *waterfall.Bundle) error {
	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()
	textY := area.Min.Y - fontHeight/2

	for bin, freq := range b.Frequencies {
		x := area.Min.X + bin*a.config.CellWidth + a.config.CellWidth/2

		for y := area.Min.Y - tickMarkLength; y < area.Min.Y; y++ {
			img.Set(x, y, color.Black)
		}

		label := humanHz(freq)
		width := font.MeasureString(a.fontFace, label)
		if _, err := a.context.DrawString(label, freetype.Pt(x-(width.Round()/2), textY)); err != nil {
			return fmt.Errorf("drawing frequency label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawTimeScale(img *image.RGBA, area image.Rectangle, b *waterfall.Bundle) error {
	start, end := b.Timestamps[0], b.Timestamps[b.Len()-1]
	timeStep := calculateNiceTimeStep(end.Sub(start))

	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()

	height := area.Dy()
	for t := start; !t.After(end); t = t.Add(timeStep) {
		var yRatio float64
		if end.After(start) {
			yRatio = float64(t.Sub(start)) / float64(end.Sub(start))
		}
		imgY := area.Min.Y + int(yRatio*float64(height-1))

		for x := area.Min.X - tickMarkLength; x < area.Min.X; x++ {
			img.Set(x, imgY, color.Black)
		}

		textY := imgY + fontHeight/2 - metrics.Descent.Round()
		label := t.In(a.config.Location).Format(a.config.TimeFormat)
		if _, err := a.context.DrawString(label, freetype.Pt(10, textY)); err != nil {
			return fmt.Errorf("drawing time label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawInfoBar(img *image.RGBA, b *waterfall.Bundle) error {
	start, end := b.Timestamps[0], b.Timestamps[b.Len()-1]

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Session: %s", b.Meta.SessionID))
	sb.WriteString("; ")
	sb.WriteString(fmt.Sprintf("Time: %s - %s",
		start.In(a.config.Location).Format(a.config.DatetimeFormat),
		end.In(a.config.Location).Format(a.config.DatetimeFormat)))
	sb.WriteString("; ")
	sb.WriteString(fmt.Sprintf("Tones: mark %s, space %s, carrier %s",
		humanHz(b.Meta.MarkTone), humanHz(b.Meta.SpaceTone), humanHz(b.Meta.CarrierTone)))

	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()
	textY := img.Bounds().Max.Y - (a.config.BorderConfig.Bottom-fontHeight)/2 - metrics.Descent.Round()

	if _, err := a.context.DrawString(sb.String(), freetype.Pt(a.config.BorderConfig.Left, textY)); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}
	return nil
}

// Helper functions

func humanHz(hz float64) string {
	v, suffix := humanize.ComputeSI(hz)
	return fmt.Sprintf("%0.2f %sHz", v, suffix)
}

func calculateNiceTimeStep(duration time.Duration) time.Duration {
	roughStep := duration.Seconds() / 8 // Aim for about 8 time labels

	niceIntervals := []float64{
		1,    // 1 second
		5,    // 5 seconds
		15,   // 15 seconds
		30,   // 30 seconds
		60,   // 1 minute
		300,  // 5 minutes
		600,  // 10 minutes
		1800, // 30 minutes
		3600, // 1 hour
	}
	for _, interval := range niceIntervals {
		if roughStep <= interval {
			return time.Duration(interval) * time.Second
		}
	}

	return 2 * time.Hour // Default for very long captures
}
