package records

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const mimicTimeLayout = "2006-01-02 15:04:05"

// debugRowCap limits loaded rows in debug mode so a laptop can serve the full
// MIMIC-IV note dump without loading all of it.
const debugRowCap = 100

// MIMICStore serves the MIMIC-IV note module exported as discharge.csv and
// radiology.csv. Everything is loaded into memory at startup.
type MIMICStore struct {
	notes map[string][]Note // keyed by patient id, sorted most-recent-first
}

// LoadMIMICStore reads both CSV exports from dir.
func LoadMIMICStore(dir string, debug bool, logger *slog.Logger) (*MIMICStore, error) {
	s := &MIMICStore{notes: make(map[string][]Note)}

	total := 0
	for _, f := range []struct {
		file     string
		noteType string
	}{
		{"discharge.csv", "discharge"},
		{"radiology.csv", "radiology"},
	} {
		path := filepath.Join(dir, f.file)
		n, err := s.loadFile(path, f.noteType, debug, total)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", f.file, err)
		}
		total += n
		logger.Info("loaded mimic notes", "file", f.file, "rows", n)
	}

	for id := range s.notes {
		sortNotes(s.notes[id])
	}

	logger.Info("mimic store ready", "patients", len(s.notes), "notes", total)
	return s, nil
}

func (s *MIMICStore) loadFile(path, noteType string, debug bool, loaded int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // note text rows vary after the header

	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"note_id", "subject_id", "text"} {
		if _, ok := col[required]; !ok {
			return 0, fmt.Errorf("missing column %q", required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	n := 0
	for {
		if debug && loaded+n >= debugRowCap {
			break
		}
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, fmt.Errorf("read row: %w", err)
		}

		patientID := field(row, "subject_id")
		note := Note{
			NoteID:    field(row, "note_id"),
			Text:      field(row, "text"),
			NoteType:  mimicNoteType(field(row, "note_type"), noteType),
			HadmID:    field(row, "hadm_id"),
			PatientID: patientID,
		}
		if raw := field(row, "charttime"); raw != "" {
			if t, err := time.Parse(mimicTimeLayout, raw); err == nil {
				note.ChartTime = &t
			}
		}

		s.notes[patientID] = append(s.notes[patientID], note)
		n++
	}
	return n, nil
}

// mimicNoteType maps MIMIC's raw type codes to readable labels.
func mimicNoteType(raw, fallback string) string {
	switch raw {
	case "DS":
		return "discharge"
	case "LR":
		return "radiology"
	case "":
		return fallback
	}
	return raw
}

func (s *MIMICStore) Name() string { return string(KindMIMICIV) }

func (s *MIMICStore) PatientExists(_ context.Context, patientID string) (bool, error) {
	_, ok := s.notes[patientID]
	return ok, nil
}

func (s *MIMICStore) ListNotes(_ context.Context, patientID string) ([]Note, error) {
	notes := s.notes[patientID]
	out := make([]Note, len(notes))
	copy(out, notes)
	return out, nil
}

func (s *MIMICStore) Metadata(_ context.Context, patientID string) (Metadata, error) {
	// The note module carries no demographics.
	return Metadata{Name: "Unknown", Age: "Unknown", MRN: patientID}, nil
}
