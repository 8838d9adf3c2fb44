package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const defaultBatchSize = 1000

const (
	selectBitEventsPageSQL = `
SELECT
    id,
    session_id,
    timestamp,
    session_time_ms,
    bit,
    frequency,
    bit_number
FROM bit_events`

	selectSpectraPageSQL = `
SELECT
    id,
    session_id,
    timestamp,
    session_time_ms,
    state,
    peak_frequency,
    peak_magnitude,
    audio_level
FROM spectra`
)

type readerConfig struct {
	batchSize int
	from, to  *time.Time
}

// ReaderOption configures a Reader.
type ReaderOption func(*readerConfig)

// WithBatchSize sets how many rows a reader fetches per query.
func WithBatchSize(n int) ReaderOption {
	return func(c *readerConfig) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithTimeRange restricts a reader to rows with from <= timestamp <= to.
func WithTimeRange(from, to time.Time) ReaderOption {
	return func(c *readerConfig) {
		c.from, c.to = &from, &to
	}
}

// scanFunc scans the current row into a record, also returning the row ID
// used to key the next page.
type scanFunc[T any] func(rows *sql.Rows) (rec T, id int64, err error)

// Reader iterates over a session's rows in ID order, fetching them in
// batches keyed on the last seen row ID. A reader instance must only be
// used from a single goroutine.
type Reader[T any] struct {
	db    *sql.DB
	query string
	args  []any
	scan  scanFunc[T]
	cfg   readerConfig

	lastID int64
	batch  []T
	pos    int
	done   bool
}

func newReader[T any](db *sql.DB, sessionID int64, baseSQL string, scan scanFunc[T], opts ...ReaderOption) (*Reader[T], error) {
	cfg := readerConfig{batchSize: defaultBatchSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	var sb strings.Builder
	sb.WriteString(baseSQL)
	sb.WriteString("\nWHERE session_id = ? AND id > ?")
	args := []any{sessionID}
	if cfg.from != nil {
		sb.WriteString(" AND timestamp >= ? AND timestamp <= ?")
		args = append(args, cfg.from.UTC(), cfg.to.UTC())
	}
	sb.WriteString("\nORDER BY id\nLIMIT ?")

	return &Reader[T]{
		db:    db,
		query: sb.String(),
		args:  args,
		scan:  scan,
		cfg:   cfg,
	}, nil
}

// Next returns the next record. The second return value is false once the
// reader is exhausted.
func (r *Reader[T]) Next(ctx context.Context) (rec T, ok bool, err error) {
	if r.pos >= len(r.batch) {
		if r.done {
			return rec, false, nil
		}
		if err = r.fetch(ctx); err != nil {
			return rec, false, err
		}
		if len(r.batch) == 0 {
			return rec, false, nil
		}
	}

	rec = r.batch[r.pos]
	r.pos++
	return rec, true, nil
}

func (r *Reader[T]) fetch(ctx context.Context) (err error) {
	args := append([]any{r.args[0], r.lastID}, r.args[1:]...)
	args = append(args, r.cfg.batchSize)

	rows, err := r.db.QueryContext(ctx, r.query, args...)
	if err != nil {
		return fmt.Errorf("querying page: %w", err)
	}
	defer closeWithError(rows, &err)

	r.batch = r.batch[:0]
	r.pos = 0
	for rows.Next() {
		rec, id, sErr := r.scan(rows)
		if sErr != nil {
			return fmt.Errorf("scanning row: %w", sErr)
		}
		r.batch = append(r.batch, rec)
		r.lastID = id
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("reading page: %w", err)
	}

	if len(r.batch) < r.cfg.batchSize {
		r.done = true
	}
	return nil
}

// Close releases the reader. The underlying connection is shared and stays
// open.
func (r *Reader[T]) Close() error {
	r.batch = nil
	r.done = true
	return nil
}

func scanBitEvent(rows *sql.Rows) (BitEventRecord, int64, error) {
	var rec BitEventRecord
	var ms float64
	err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Timestamp, &ms, &rec.Bit, &rec.Frequency, &rec.BitNumber)
	rec.SessionTime = millisToDuration(ms)
	return rec, rec.ID, err
}

func scanSpectrum(rows *sql.Rows) (SpectrumRecord, int64, error) {
	var rec SpectrumRecord
	var ms float64
	err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Timestamp, &ms, &rec.State, &rec.PeakFrequency, &rec.PeakMagnitude, &rec.AudioLevel)
	rec.SessionTime = millisToDuration(ms)
	return rec, rec.ID, err
}
