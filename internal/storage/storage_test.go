package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "session.db"))
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})
	return s
}

func createTestSession(t *testing.T, s *Store) int64 {
	t.Helper()
	id, err := s.CreateSession(context.Background(), SessionRecord{
		SessionUID: "b1946ac9-test",
		StartTime:  time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		SampleRate: 44100,
		WindowSize: 8192,
		Config:     sql.NullString{String: `{"band":[20,35]}`, Valid: true},
	})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	return id
}

func TestStore_CreateAndReadSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := createTestSession(t, s)
	if id <= 0 {
		t.Fatalf("Expected positive session ID, got %d", id)
	}

	sess, err := s.Session(ctx, id)
	if err != nil {
		t.Fatalf("Failed to read session: %v", err)
	}
	if sess.SessionUID != "b1946ac9-test" {
		t.Errorf("Expected session UID b1946ac9-test, got %q", sess.SessionUID)
	}
	if sess.SampleRate != 44100 || sess.WindowSize != 8192 {
		t.Errorf("Session parameters not persisted: %+v", sess)
	}
	if !sess.Config.Valid || sess.Config.String != `{"band":[20,35]}` {
		t.Errorf("Session config not persisted: %+v", sess.Config)
	}

	sessions, err := s.Sessions(ctx)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != id {
		t.Errorf("Expected one session with ID %d, got %+v", id, sessions)
	}
}

func TestStore_BitEventsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sessionID := createTestSession(t, s)

	base := time.Date(2026, 3, 14, 9, 0, 10, 0, time.UTC)
	events := make([]BitEventRecord, 5)
	for i := range events {
		events[i] = BitEventRecord{
			SessionID:   sessionID,
			Timestamp:   base.Add(time.Duration(i) * time.Second),
			SessionTime: 10*time.Second + time.Duration(i)*time.Second,
			Bit:         i % 2,
			Frequency:   21.53 + float64(i%2)*5.39,
			BitNumber:   int64(i + 1),
		}
	}
	if err := s.InsertBitEvents(ctx, events); err != nil {
		t.Fatalf("Failed to insert bit events: %v", err)
	}

	r, err := s.ReadBitEvents(ctx, sessionID, WithBatchSize(2))
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer r.Close()

	var got []BitEventRecord
	for {
		rec, ok, err := r.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, rec)
	}

	if len(got) != len(events) {
		t.Fatalf("Expected %d events, got %d", len(events), len(got))
	}
	for i, rec := range got {
		want := events[i]
		if rec.BitNumber != want.BitNumber || rec.Bit != want.Bit {
			t.Errorf("Event %d: expected bit %d number %d, got %+v", i, want.Bit, want.BitNumber, rec)
		}
		if rec.SessionTime != want.SessionTime {
			t.Errorf("Event %d: expected session time %s, got %s", i, want.SessionTime, rec.SessionTime)
		}
		if rec.Frequency != want.Frequency {
			t.Errorf("Event %d: expected frequency %f, got %f", i, want.Frequency, rec.Frequency)
		}
	}
}

func TestStore_SpectraRoundTripAndTimeRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sessionID := createTestSession(t, s)

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	spectra := make([]SpectrumRecord, 10)
	for i := range spectra {
		spectra[i] = SpectrumRecord{
			SessionID:     sessionID,
			Timestamp:     base.Add(time.Duration(i) * time.Minute),
			SessionTime:   time.Duration(i) * time.Minute,
			State:         "carrier",
			PeakFrequency: sql.NullFloat64{Float64: 32.30, Valid: true},
			PeakMagnitude: sql.NullFloat64{Float64: 50.5, Valid: true},
			AudioLevel:    0.12,
		}
	}
	spectra[0].State = "no-signal"
	spectra[0].PeakFrequency = sql.NullFloat64{}
	spectra[0].PeakMagnitude = sql.NullFloat64{}

	if err := s.InsertSpectra(ctx, spectra); err != nil {
		t.Fatalf("Failed to insert spectra: %v", err)
	}

	r, err := s.ReadSpectra(ctx, sessionID, WithBatchSize(3))
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	var all []SpectrumRecord
	for {
		rec, ok, err := r.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if !ok {
			break
		}
		all = append(all, rec)
	}
	_ = r.Close()

	if len(all) != 10 {
		t.Fatalf("Expected 10 spectra, got %d", len(all))
	}
	if all[0].State != "no-signal" || all[0].PeakFrequency.Valid {
		t.Errorf("No-signal row not persisted with null peak: %+v", all[0])
	}
	if all[1].PeakMagnitude.Float64 != 50.5 {
		t.Errorf("Expected peak magnitude 50.5, got %+v", all[1].PeakMagnitude)
	}

	// Rows 3..6 by capture time.
	r, err = s.ReadSpectra(ctx, sessionID, WithTimeRange(base.Add(3*time.Minute), base.Add(6*time.Minute)))
	if err != nil {
		t.Fatalf("Failed to create ranged reader: %v", err)
	}
	defer r.Close()

	var ranged int
	for {
		rec, ok, err := r.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if !ok {
			break
		}
		if rec.SessionTime < 3*time.Minute || rec.SessionTime > 6*time.Minute {
			t.Errorf("Row outside requested range: %+v", rec)
		}
		ranged++
	}
	if ranged != 4 {
		t.Errorf("Expected 4 rows in range, got %d", ranged)
	}
}

func TestStore_EmptyBatchesAreNoOps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertBitEvents(ctx, nil); err != nil {
		t.Errorf("Empty bit event batch failed: %v", err)
	}
	if err := s.InsertSpectra(ctx, nil); err != nil {
		t.Errorf("Empty spectrum batch failed: %v", err)
	}
}

func TestStore_CloseIsIdempotent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "session.db"))
	if _, err := s.CreateSession(context.Background(), SessionRecord{SessionUID: "x", StartTime: time.Now()}); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("First close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}
}
