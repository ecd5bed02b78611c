package records

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore reads notes from a Postgres `notes` table:
// (note_id text, patient_id text, hadm_id text, note_type text,
// chart_time timestamptz, text text).
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(ctx context.Context, databaseURL string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

func (s *PGStore) Close() {
	s.pool.Close()
}

func (s *PGStore) Name() string { return string(KindPostgres) }

func (s *PGStore) PatientExists(ctx context.Context, patientID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM notes WHERE patient_id = $1)`, patientID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("patient exists: %w", err)
	}
	return exists, nil
}

func (s *PGStore) ListNotes(ctx context.Context, patientID string) ([]Note, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT note_id, text, note_type, chart_time, hadm_id
		FROM notes
		WHERE patient_id = $1
		ORDER BY chart_time DESC NULLS LAST`,
		patientID,
	)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var (
			note      Note
			noteType  *string
			chartTime *time.Time
			hadmID    *string
		)
		if err := rows.Scan(&note.NoteID, &note.Text, &noteType, &chartTime, &hadmID); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		if noteType != nil {
			note.NoteType = *noteType
		}
		if hadmID != nil {
			note.HadmID = *hadmID
		}
		note.ChartTime = chartTime
		note.PatientID = patientID
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return notes, nil
}

func (s *PGStore) Metadata(ctx context.Context, patientID string) (Metadata, error) {
	// The notes table carries no demographics.
	return Metadata{Name: "Unknown", Age: "Unknown", MRN: patientID}, nil
}
