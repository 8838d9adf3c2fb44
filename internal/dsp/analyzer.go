// Package dsp provides windowed spectral analysis of PCM audio.
package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/signalhouse/fskmon/internal/pcm"
)

// Frame is a single band-restricted magnitude spectrum computed from one
// analysis window. The frequency axis is shared across all frames of a
// session and lives on the Analyzer; Magnitudes is parallel to it.
type Frame struct {
	Timestamp  time.Time // Capture time of the source window
	Magnitudes []float64 // Non-negative magnitude per axis bin
	Level      float64   // RMS level of the source window, 0..1
}

// Analyzer converts fixed-length sample windows into magnitude spectra
// restricted to a configured analysis band. The frequency axis is computed
// once at construction from the sample rate and window size and never
// changes afterwards. Analyze holds no state between calls beyond reusable
// scratch buffers, so a frame depends only on its input window; the analyzer
// is meant to be driven by a single consumer goroutine.
type Analyzer struct {
	sampleRate int
	windowSize int
	resolution float64

	loBin int
	axis  []float64

	hann    []float64
	fft     *fourier.FFT
	scratch []float64
}

// NewAnalyzer creates an analyzer for the given sample rate, window size and
// analysis band in Hz. The band must contain at least one FFT bin.
func NewAnalyzer(sampleRate, windowSize int, bandLow, bandHigh float64) (*Analyzer, error) {
	if sampleRate <= 0 || windowSize <= 0 {
		return nil, fmt.Errorf("invalid analyzer parameters: rate=%d, window=%d", sampleRate, windowSize)
	}
	if bandLow < 0 || bandHigh <= bandLow {
		return nil, fmt.Errorf("invalid analysis band: %.2f-%.2fHz", bandLow, bandHigh)
	}

	df := float64(sampleRate) / float64(windowSize)
	loBin := int(math.Ceil(bandLow / df))
	hiBin := int(math.Floor(bandHigh / df))
	if hiBin > windowSize/2 {
		hiBin = windowSize / 2
	}
	if hiBin < loBin {
		return nil, fmt.Errorf("analysis band %.2f-%.2fHz contains no bins at %.2fHz resolution", bandLow, bandHigh, df)
	}

	a := &Analyzer{
		sampleRate: sampleRate,
		windowSize: windowSize,
		resolution: df,
		loBin:      loBin,
		axis:       make([]float64, hiBin-loBin+1),
		hann:       make([]float64, windowSize),
		fft:        fourier.NewFFT(windowSize),
		scratch:    make([]float64, windowSize),
	}

	for i := range a.axis {
		a.axis[i] = float64(loBin+i) * df
	}
	for i := 0; i < windowSize; i++ {
		a.hann[i] = 0.5 * (1.0 - math.Cos(2.0*math.Pi*float64(i)/float64(windowSize-1)))
	}
	return a, nil
}

// Axis returns the fixed frequency axis in Hz. The returned slice is shared
// and must not be modified.
func (a *Analyzer) Axis() []float64 {
	return a.axis
}

// Resolution returns the frequency spacing between bins in Hz.
func (a *Analyzer) Resolution() float64 {
	return a.resolution
}

// WindowSize returns the number of samples per analysis window.
func (a *Analyzer) WindowSize() int {
	return a.windowSize
}

// SampleRate returns the configured sample rate in Hz.
func (a *Analyzer) SampleRate() int {
	return a.sampleRate
}

// Analyze computes the band-restricted magnitude spectrum of one window.
// The window length must equal the configured window size.
func (a *Analyzer) Analyze(w pcm.Window) (Frame, error) {
	if len(w.Samples) != a.windowSize {
		return Frame{}, fmt.Errorf("window size mismatch: expected %d samples, got %d", a.windowSize, len(w.Samples))
	}

	var sumSquares float64
	for i, s := range w.Samples {
		v := float64(s) / 32768.0
		sumSquares += v * v
		a.scratch[i] = v * a.hann[i]
	}

	coeffs := a.fft.Coefficients(nil, a.scratch)

	f := Frame{
		Timestamp:  w.Start,
		Magnitudes: make([]float64, len(a.axis)),
		Level:      math.Sqrt(sumSquares / float64(a.windowSize)),
	}
	for i := range a.axis {
		f.Magnitudes[i] = cmplx.Abs(coeffs[a.loBin+i])
	}
	return f, nil
}

// PeakBin returns the index and magnitude of the strongest bin in the frame.
// The boolean is false for an empty magnitude vector.
func PeakBin(magnitudes []float64) (int, float64, bool) {
	if len(magnitudes) == 0 {
		return 0, 0, false
	}
	peak, peakMag := 0, magnitudes[0]
	for i, m := range magnitudes[1:] {
		if m > peakMag {
			peak, peakMag = i+1, m
		}
	}
	return peak, peakMag, true
}
