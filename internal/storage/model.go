package storage

import (
	"database/sql"
	"time"
)

// SessionRecord is one monitoring session as stored.
type SessionRecord struct {
	ID         int64
	SessionUID string
	StartTime  time.Time
	SampleRate int
	WindowSize int
	Config     sql.NullString // JSON snapshot of the session configuration
}

// BitEventRecord is one decoded bit as stored.
type BitEventRecord struct {
	ID          int64
	SessionID   int64
	Timestamp   time.Time
	SessionTime time.Duration
	Bit         int
	Frequency   float64
	BitNumber   int64
}

// SpectrumRecord is the per-frame classification summary as stored: the
// signal state together with the peak that produced it and the audio level
// of the source window.
type SpectrumRecord struct {
	ID            int64
	SessionID     int64
	Timestamp     time.Time
	SessionTime   time.Duration
	State         string
	PeakFrequency sql.NullFloat64
	PeakMagnitude sql.NullFloat64
	AudioLevel    float64
}
