// Package fsk classifies magnitude spectra into a ternary FSK signal state
// and extracts a binary data stream from state transitions.
package fsk

import (
	"fmt"
	"math"
	"time"

	"github.com/signalhouse/fskmon/internal/dsp"
)

// State is the signal state derived from a single spectrum frame.
type State int

const (
	StateNoSignal State = iota // No peak above threshold, or peak off the reference tones
	StateCarrier               // Highest reference tone; counted, never decoded
	StateMark                  // Lowest reference tone, bit 0
	StateSpace                 // Middle reference tone, bit 1
)

func (s State) String() string {
	switch s {
	case StateNoSignal:
		return "no-signal"
	case StateCarrier:
		return "carrier"
	case StateMark:
		return "mark"
	case StateSpace:
		return "space"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IsData returns true for the two data-carrying states.
func (s State) IsData() bool {
	return s == StateMark || s == StateSpace
}

// Bit returns the bit value carried by a data state: 0 for mark, 1 for space.
func (s State) Bit() int {
	if s == StateSpace {
		return 1
	}
	return 0
}

// Tones holds the three reference tone frequencies in Hz. Mark must be the
// lowest and Carrier the highest.
type Tones struct {
	Mark    float64 `yaml:"mark"`
	Space   float64 `yaml:"space"`
	Carrier float64 `yaml:"carrier"`
}

// DefaultTones are the reference tones observed in the monitored channel.
func DefaultTones() Tones {
	return Tones{Mark: 21.53, Space: 26.92, Carrier: 32.30}
}

// Config holds the classification parameters.
type Config struct {
	Tones              Tones   // Reference tones
	Tolerance          float64 // Maximum distance from a reference tone in Hz
	DetectionThreshold float64 // Minimum peak magnitude to consider a signal present
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Tones:              DefaultTones(),
		Tolerance:          0.5,
		DetectionThreshold: 15.0,
	}
}

func (c Config) validate() error {
	if c.Tolerance <= 0 {
		return fmt.Errorf("invalid tone tolerance: %f", c.Tolerance)
	}
	if c.DetectionThreshold < 0 {
		return fmt.Errorf("invalid detection threshold: %f", c.DetectionThreshold)
	}
	if !(c.Tones.Mark < c.Tones.Space && c.Tones.Space < c.Tones.Carrier) {
		return fmt.Errorf("reference tones must be ordered mark < space < carrier: %+v", c.Tones)
	}
	return nil
}

// Classify maps one magnitude spectrum to a signal state. It is a pure
// function of its inputs: the peak bin is located, rejected if below the
// detection threshold, and otherwise matched to the nearest reference tone
// within the tolerance. The returned frequency and magnitude describe the
// peak (zero for no-signal frames without a usable peak).
func Classify(axis, magnitudes []float64, cfg Config) (state State, freq, magnitude float64) {
	peak, peakMag, ok := dsp.PeakBin(magnitudes)
	if !ok || peakMag < cfg.DetectionThreshold {
		return StateNoSignal, 0, peakMag
	}

	freq = axis[peak]
	type match struct {
		state State
		tone  float64
	}
	best := match{state: StateNoSignal}
	bestDist := cfg.Tolerance
	for _, m := range []match{
		{StateMark, cfg.Tones.Mark},
		{StateSpace, cfg.Tones.Space},
		{StateCarrier, cfg.Tones.Carrier},
	} {
		if d := math.Abs(freq - m.tone); d <= bestDist {
			best, bestDist = m, d
		}
	}
	return best.state, freq, peakMag
}

// BitEvent is one decoded bit, emitted on a state transition into a data state.
type BitEvent struct {
	Timestamp   time.Time     // Frame timestamp that produced the bit
	SessionTime time.Duration // Offset from session start
	Bit         int           // 0 (mark) or 1 (space)
	Frequency   float64       // Peak frequency that classified the frame
	Index       uint64        // 1-based position in the decoded bit stream
}

// Decoder runs the classification state machine over a frame sequence and
// emits bits edge-triggered: a BitEvent appears only on the frame where the
// state changes into mark or space from any other state, so a tone held
// across consecutive windows contributes a single bit. Carrier frames are
// counted for statistics but never decoded. The decoder's output depends
// only on the frame sequence and is replayable from stored spectra.
type Decoder struct {
	cfg          Config
	axis         []float64
	sessionStart time.Time

	state  State
	bits   uint64
	ones   uint64
	counts [4]uint64
}

// NewDecoder creates a decoder over the given fixed frequency axis.
func NewDecoder(axis []float64, sessionStart time.Time, cfg Config) (*Decoder, error) {
	if len(axis) == 0 {
		return nil, fmt.Errorf("empty frequency axis")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Decoder{
		cfg:          cfg,
		axis:         axis,
		sessionStart: sessionStart,
		state:        StateNoSignal,
	}, nil
}

// Process classifies one frame, advances the state machine and returns the
// new state plus a BitEvent if this frame is a transition into a data state.
func (d *Decoder) Process(f dsp.Frame) (State, *BitEvent) {
	state, freq, _ := Classify(d.axis, f.Magnitudes, d.cfg)

	prev := d.state
	d.state = state
	d.counts[state]++

	if !state.IsData() || state == prev {
		return state, nil
	}

	d.bits++
	bit := state.Bit()
	if bit == 1 {
		d.ones++
	}
	return state, &BitEvent{
		Timestamp:   f.Timestamp,
		SessionTime: f.Timestamp.Sub(d.sessionStart),
		Bit:         bit,
		Frequency:   freq,
		Index:       d.bits,
	}
}

// State returns the state after the most recently processed frame.
func (d *Decoder) State() State {
	return d.state
}

// BitCount returns the total number of bits emitted.
func (d *Decoder) BitCount() uint64 {
	return d.bits
}

// OnesCount returns the number of 1 bits emitted.
func (d *Decoder) OnesCount() uint64 {
	return d.ones
}

// FrameCount returns the number of frames classified into the given state.
func (d *Decoder) FrameCount(s State) uint64 {
	if s < 0 || int(s) >= len(d.counts) {
		return 0
	}
	return d.counts[s]
}
