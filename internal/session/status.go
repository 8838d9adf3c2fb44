package session

import (
	"time"

	"github.com/signalhouse/fskmon/internal/stream"
)

// Status is a point-in-time snapshot of a session.
type Status struct {
	SessionID string        `json:"sessionID"`
	Running   bool          `json:"running"`
	StartTime time.Time     `json:"startTime"`
	Elapsed   time.Duration `json:"elapsed"`

	Stream          stream.Stats `json:"stream"`
	BufferOverflows uint64       `json:"bufferOverflows"`
	StreamError     string       `json:"streamError,omitempty"`

	FramesAnalyzed uint64            `json:"framesAnalyzed"`
	LastFrameTime  time.Time         `json:"lastFrameTime"`
	State          string            `json:"state"`
	StrongSignal   bool              `json:"strongSignal"`
	PeakFrequency  float64           `json:"peakFrequency"`
	PeakMagnitude  float64           `json:"peakMagnitude"`
	AudioLevel     float64           `json:"audioLevel"`
	FrameCounts    map[string]uint64 `json:"frameCounts"`

	BitCount  uint64 `json:"bitCount"`
	OnesCount uint64 `json:"onesCount"`

	Waterfall WaterfallStatus `json:"waterfall"`
	Recording RecordingStatus `json:"recording"`
}

// WaterfallStatus describes the waterfall log attached to a session.
type WaterfallStatus struct {
	Active  bool   `json:"active"`
	Entries int    `json:"entries"`
	Total   uint64 `json:"total"`
}

// RecordingStatus describes the audio archival state of a session.
type RecordingStatus struct {
	Active            bool   `json:"active"`
	Segments          int    `json:"segments"`
	CurrentPath       string `json:"currentPath,omitempty"`
	CurrentSamples    int    `json:"currentSamples"`
	TotalSamples      uint64 `json:"totalSamples"`
	AbandonedSegments int    `json:"abandonedSegments"`
}
