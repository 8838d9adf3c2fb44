package pcm

import "time"

// Block represents a contiguous run of mono 16-bit PCM samples captured from
// the stream source. Blocks carry a strictly increasing sequence number so
// that consumers can detect and account for dropped data instead of silently
// skipping over it.
type Block struct {
	Seq       uint64    // Monotonically increasing block sequence number
	Timestamp time.Time // Capture time of the first sample in the block
	Samples   []int16   // Sample payload; treated as immutable once pushed
}

// Duration returns the wall-clock span the block covers at the given sample rate.
func (b Block) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(sampleRate)
}

// Window is one fixed-length analysis window assembled from consecutive
// blocks. Start is the capture timestamp of the block that began the current
// assembly run; it orders windows but is not sample-accurate.
type Window struct {
	Start   time.Time
	Samples []int16
}

func unixNanoTime(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
