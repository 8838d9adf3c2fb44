package storage

import (
	_ "embed"
)

const (
	insertSessionSQL = `
INSERT INTO sessions (
                      session_uid,
                      start_time,
                      sample_rate,
                      window_size,
                      config)
VALUES (?, ?, ?, ?, ?)`

	selectSessionSQL = `
SELECT
    id,
    session_uid,
    start_time,
    sample_rate,
    window_size,
    config
FROM sessions
WHERE
    id = ?`

	selectSessionsSQL = `
SELECT
    id,
    session_uid,
    start_time,
    sample_rate,
    window_size,
    config
FROM sessions
ORDER BY start_time`

	insertBitEventSQL = `
INSERT INTO bit_events (session_id,
                        timestamp,
                        session_time_ms,
                        bit,
                        frequency,
                        bit_number)
VALUES (?, ?, ?, ?, ?, ?)`

	insertSpectrumSQL = `
INSERT INTO spectra (session_id,
                     timestamp,
                     session_time_ms,
                     state,
                     peak_frequency,
                     peak_magnitude,
                     audio_level)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_bit_events_session ON bit_events (session_id, bit_number);
CREATE INDEX IF NOT EXISTS idx_spectra_session ON spectra (session_id, timestamp);`
)

//go:embed schema.sql
var schemaSQL string
