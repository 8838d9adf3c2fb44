// Package stream acquires the raw PCM sample stream, either from a network
// audio endpoint or from a local WAV file for replay.
package stream

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/signalhouse/fskmon/internal/pcm"
)

// DefaultChunkSamples is the number of samples emitted per block when a
// source is not configured otherwise.
const DefaultChunkSamples = 4096

var (
	// ErrAlreadyStreaming is returned when a source is started twice.
	ErrAlreadyStreaming = errors.New("source is already streaming")

	// ErrStreamEnded is returned when the upstream closed the stream and
	// reconnection attempts are exhausted.
	ErrStreamEnded = errors.New("stream ended")
)

// Source produces timestamped sample blocks until stopped or the stream
// ends. The returned channel yields the terminal error, if any, and is
// closed once streaming has fully stopped.
type Source interface {
	BeginStreaming(ctx context.Context, blocks chan<- pcm.Block) (<-chan error, error)
	Stop()
	IsStreaming() bool
	SampleRate() int
	Stats() Stats
}

// Stats is a point-in-time snapshot of a source's transport counters.
type Stats struct {
	BytesReceived uint64
	BlocksEmitted uint64
	Reconnects    uint64
}

// decodeSamples converts little-endian 16-bit PCM bytes into samples.
// A trailing odd byte is ignored.
func decodeSamples(buf []byte) []int16 {
	samples := make([]int16, len(buf)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
	}
	return samples
}
