// Package storage persists sessions, decoded bit events and per-frame
// spectrum summaries in an SQLite database.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Store handles database operations. Write and read connections are opened
// lazily and independently; the write connection initializes the schema.
type Store struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// New creates a store backed by the SQLite database at dbPath.
func New(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *Store) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, schemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *Store) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// CreateSession inserts a session row and returns its database ID.
func (s *Store) CreateSession(ctx context.Context, rec SessionRecord) (sessionID int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx, rec.SessionUID, rec.StartTime.UTC(), rec.SampleRate, rec.WindowSize, rec.Config)
	if err != nil {
		err = fmt.Errorf("inserting session: %w", err)
		return
	}

	sessionID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting session ID: %w", err)
	}
	return
}

// Session returns a session by its database ID.
func (s *Store) Session(ctx context.Context, id int64) (session *SessionRecord, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	var rec SessionRecord
	if err = stmt.QueryRowContext(ctx, id).Scan(&rec.ID, &rec.SessionUID, &rec.StartTime, &rec.SampleRate, &rec.WindowSize, &rec.Config); err != nil {
		err = fmt.Errorf("scanning session: %w", err)
		return
	}
	return &rec, nil
}

// Sessions returns all sessions ordered by start time.
func (s *Store) Sessions(ctx context.Context) (sessions []SessionRecord, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var rec SessionRecord
		if err = rows.Scan(&rec.ID, &rec.SessionUID, &rec.StartTime, &rec.SampleRate, &rec.WindowSize, &rec.Config); err != nil {
			err = fmt.Errorf("scanning session: %w", err)
			return
		}
		sessions = append(sessions, rec)
	}
	err = rows.Err()
	return
}

// InsertBitEvents inserts a batch of bit events in a single transaction.
func (s *Store) InsertBitEvents(ctx context.Context, events []BitEventRecord) (err error) {
	if len(events) == 0 {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, insertBitEventSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	for _, ev := range events {
		_, err = stmt.ExecContext(
			ctx,
			ev.SessionID,
			ev.Timestamp.UTC(),
			durationToMillis(ev.SessionTime),
			ev.Bit,
			ev.Frequency,
			ev.BitNumber,
		)
		if err != nil {
			return fmt.Errorf("inserting bit event: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// InsertSpectra inserts a batch of spectrum summaries in a single transaction.
func (s *Store) InsertSpectra(ctx context.Context, spectra []SpectrumRecord) (err error) {
	if len(spectra) == 0 {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, insertSpectrumSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	for _, sp := range spectra {
		_, err = stmt.ExecContext(
			ctx,
			sp.SessionID,
			sp.Timestamp.UTC(),
			durationToMillis(sp.SessionTime),
			sp.State,
			sp.PeakFrequency,
			sp.PeakMagnitude,
			sp.AudioLevel,
		)
		if err != nil {
			return fmt.Errorf("inserting spectrum: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ReadBitEvents creates a paginated reader over a session's bit events in
// bit-number order. The reader must be closed after use.
func (s *Store) ReadBitEvents(ctx context.Context, sessionID int64, opts ...ReaderOption) (*Reader[BitEventRecord], error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newReader(db, sessionID, selectBitEventsPageSQL, scanBitEvent, opts...)
}

// ReadSpectra creates a paginated reader over a session's spectrum summaries
// in capture order. The reader must be closed after use.
func (s *Store) ReadSpectra(ctx context.Context, sessionID int64, opts ...ReaderOption) (*Reader[SpectrumRecord], error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newReader(db, sessionID, selectSpectraPageSQL, scanSpectrum, opts...)
}

// Close closes the database connections. Indexes are created on the write
// connection before closing so bulk inserts during the session stay cheap.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		switch {
		case writeErr != nil && readErr != nil:
			s.closeErr = errors.Join(writeErr, readErr)
		case writeErr != nil:
			s.closeErr = writeErr
		case readErr != nil:
			s.closeErr = readErr
		}
	})

	return s.closeErr
}
