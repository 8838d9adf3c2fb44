package app

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/signalhouse/fskmon/internal/fsk"
	"github.com/signalhouse/fskmon/internal/waterfall"
)

// BinStats summarizes one frequency bin across the whole bundle.
type BinStats struct {
	Frequency float64
	Peak      float64
	Average   float64
}

// Report is the offline summary of a waterfall bundle: channel occupancy,
// per-bin magnitude statistics and the bit stream derivable from the stored
// spectra.
type Report struct {
	Start time.Time
	End   time.Time
	Rows  int

	Bins        []BinStats
	StateCounts map[fsk.State]uint64
	Bits        uint64
	Ones        uint64
	Strong      uint64
	AvgLevel    float64

	// Classification is skipped when the bundle carries no usable
	// parameters (a CSV stripped of its metadata comments, for example).
	Classified bool
}

// NewReport walks the bundle once, replaying the same classification the
// live pipeline applied, and aggregates the results.
func NewReport(b *waterfall.Bundle) *Report {
	r := &Report{
		Rows:        b.Len(),
		StateCounts: make(map[fsk.State]uint64),
		Bins:        make([]BinStats, len(b.Frequencies)),
	}
	if b.Len() == 0 {
		return r
	}
	r.Start, r.End = b.Timestamps[0], b.Timestamps[b.Len()-1]

	for i, freq := range b.Frequencies {
		r.Bins[i].Frequency = freq
	}

	cfg := fsk.Config{
		Tones: fsk.Tones{
			Mark:    b.Meta.MarkTone,
			Space:   b.Meta.SpaceTone,
			Carrier: b.Meta.CarrierTone,
		},
		Tolerance:          b.Meta.ToneTolerance,
		DetectionThreshold: b.Meta.DetectionThreshold,
	}
	r.Classified = cfg.Tolerance > 0 && cfg.Tones.Mark < cfg.Tones.Space && cfg.Tones.Space < cfg.Tones.Carrier

	prev := fsk.StateNoSignal
	for row, mags := range b.Magnitudes {
		for bin, m := range mags {
			r.Bins[bin].Average += m
			r.Bins[bin].Peak = max(r.Bins[bin].Peak, m)
		}
		r.AvgLevel += b.Levels[row]

		if !r.Classified {
			continue
		}
		state, _, magnitude := fsk.Classify(b.Frequencies, mags, cfg)
		r.StateCounts[state]++
		if b.Meta.StrongThreshold > 0 && magnitude >= b.Meta.StrongThreshold {
			r.Strong++
		}
		if state.IsData() && state != prev {
			r.Bits++
			if state.Bit() == 1 {
				r.Ones++
			}
		}
		prev = state
	}

	for i := range r.Bins {
		r.Bins[i].Average /= float64(b.Len())
	}
	r.AvgLevel /= float64(b.Len())
	return r
}

// Write prints the report in a human-readable form.
func (r *Report) Write(w io.Writer, meta waterfall.Metadata) error {
	fmt.Fprintf(w, "Session:    %s\n", meta.SessionID)
	fmt.Fprintf(w, "Captured:   %s rows, %s to %s (%s)\n",
		humanize.Comma(int64(r.Rows)),
		r.Start.Format(time.DateTime), r.End.Format(time.DateTime),
		r.End.Sub(r.Start).Round(time.Second))
	fmt.Fprintf(w, "Audio:      %d Hz sample rate, %d-sample windows, %.4f average level\n",
		meta.SampleRate, meta.WindowSize, r.AvgLevel)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nFREQUENCY\tPEAK\tAVERAGE")
	for _, bin := range r.Bins {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\n", humanHz(bin.Frequency), bin.Peak, bin.Average)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !r.Classified {
		fmt.Fprintln(w, "\nNo classification parameters in bundle metadata, occupancy skipped.")
		return nil
	}

	fmt.Fprintln(w, "\nOccupancy:")
	for _, state := range []fsk.State{fsk.StateNoSignal, fsk.StateCarrier, fsk.StateMark, fsk.StateSpace} {
		count := r.StateCounts[state]
		fmt.Fprintf(w, "  %-10s %s rows (%.1f%%)\n",
			state, humanize.Comma(int64(count)), 100*float64(count)/float64(r.Rows))
	}
	fmt.Fprintf(w, "  %-10s %s rows\n", "strong", humanize.Comma(int64(r.Strong)))
	fmt.Fprintf(w, "\nDecoded %s bits (%s ones, %s zeros)\n",
		humanize.Comma(int64(r.Bits)), humanize.Comma(int64(r.Ones)), humanize.Comma(int64(r.Bits-r.Ones)))
	return nil
}
