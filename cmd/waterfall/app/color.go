package app

import (
	"image/color"
	"math"
)

// ColorTheme selects a predefined magnitude-to-color scheme.
type ColorTheme string

const (
	ClassicTheme   ColorTheme = "classic"   // Blue to red transition
	GrayscaleTheme ColorTheme = "grayscale" // Black to white transition
	ThermalTheme   ColorTheme = "thermal"   // Black to red to yellow to white

	defaultColorMapSize = 256
)

var colorThemes = map[ColorTheme]func(float64) color.Color{
	ClassicTheme: func(v float64) color.Color {
		return HSV{
			H: 240 - (v * 240),
			S: 0.9 + (v * 0.1),
			V: math.Pow(v, 0.7),
		}.RGB()
	},
	GrayscaleTheme: func(v float64) color.Color {
		g := uint8(math.Pow(v, 0.7) * 255)
		return color.RGBA{R: g, G: g, B: g, A: 255}
	},
	ThermalTheme: func(v float64) color.Color {
		if v < 0.33 {
			return color.RGBA{R: uint8((v * 3) * 255), A: 255}
		}
		if v < 0.66 {
			return color.RGBA{R: 255, G: uint8(((v - 0.33) * 3) * 255), A: 255}
		}
		return color.RGBA{R: 255, G: 255, B: uint8(((v - 0.66) * 3) * 255), A: 255}
	},
}

// MagnitudeBounds is the linear magnitude range mapped onto a color theme.
type MagnitudeBounds struct {
	Min float64
	Max float64
}

// ColorMapper provides efficient magnitude-to-color mapping through a
// pre-computed color table.
type ColorMapper struct {
	colorMap     []color.Color
	size         int
	boundsMin    float64
	magsPerIndex float64
}

// NewColorMapper creates a color mapper for the given theme and magnitude
// bounds. An unknown theme falls back to the classic one.
func NewColorMapper(theme ColorTheme, bounds MagnitudeBounds) *ColorMapper {
	fn, ok := colorThemes[theme]
	if !ok {
		fn = colorThemes[ClassicTheme]
	}

	cm := &ColorMapper{
		colorMap: make([]color.Color, defaultColorMapSize),
		size:     defaultColorMapSize,
	}
	for i := range cm.colorMap {
		cm.colorMap[i] = fn(float64(i) / float64(cm.size-1))
	}

	cm.boundsMin = bounds.Min
	cm.magsPerIndex = (bounds.Max - bounds.Min) / float64(cm.size-1)
	if cm.magsPerIndex <= 0 {
		cm.magsPerIndex = 1
	}
	return cm
}

// GetColor returns the color for a linear magnitude value, clamped to the
// mapper's bounds.
func (cm *ColorMapper) GetColor(magnitude float64) color.Color {
	index := int((magnitude - cm.boundsMin) / cm.magsPerIndex)
	if index < 0 {
		return cm.colorMap[0]
	}
	if index >= cm.size {
		return cm.colorMap[cm.size-1]
	}
	return cm.colorMap[index]
}

// HSV represents a color in HSV (Hue, Saturation, Value) color space.
type HSV struct {
	H float64 // Hue angle in degrees [0-360]
	S float64 // Saturation [0-1]
	V float64 // Value/Brightness [0-1]
}

// RGB converts HSV to RGB color space efficiently.
func (hsv HSV) RGB() color.Color {
	if hsv.S <= 0.0 {
		v := uint8(hsv.V * 255)
		return color.RGBA{R: v, G: v, B: v, A: 255}
	}

	h := hsv.H
	if h >= 360 {
		h -= 360
	}
	h /= 60

	i := int(h)
	f := h - float64(i)

	v := uint8(hsv.V * 255)
	p := uint8((hsv.V * (1 - hsv.S)) * 255)
	q := uint8((hsv.V * (1 - (hsv.S * f))) * 255)
	t := uint8((hsv.V * (1 - (hsv.S * (1 - f)))) * 255)

	switch i {
	case 0:
		return color.RGBA{R: v, G: t, B: p, A: 255}
	case 1:
		return color.RGBA{R: q, G: v, B: p, A: 255}
	case 2:
		return color.RGBA{R: p, G: v, B: t, A: 255}
	case 3:
		return color.RGBA{R: p, G: q, B: v, A: 255}
	case 4:
		return color.RGBA{R: t, G: p, B: v, A: 255}
	default: // case 5:
		return color.RGBA{R: v, G: p, B: q, A: 255}
	}
}
