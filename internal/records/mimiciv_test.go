package records

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeMIMICFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	discharge := `note_id,subject_id,hadm_id,note_type,note_seq,charttime,storetime,text
10000032-DS-21,10000032,22595853,DS,21,2180-05-07 00:00:00,2180-05-09 15:26:00,"Discharge summary.
Patient admitted with jaundice."
10000032-DS-22,10000032,22841357,DS,22,2180-06-27 00:00:00,2180-07-01 10:15:00,"Second discharge summary."
10000999-DS-1,10000999,20000001,DS,1,2150-01-01 00:00:00,2150-01-02 08:00:00,"Other patient note."
`
	radiology := `note_id,subject_id,hadm_id,note_type,note_seq,charttime,storetime,text
10000032-RR-14,10000032,22595853,LR,14,2180-05-06 23:00:00,2180-05-07 01:00:00,"Chest x-ray, no acute process."
`
	if err := os.WriteFile(filepath.Join(dir, "discharge.csv"), []byte(discharge), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "radiology.csv"), []byte(radiology), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadMIMICStore(t *testing.T) {
	dir := writeMIMICFixtures(t)

	s, err := LoadMIMICStore(dir, false, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	exists, err := s.PatientExists(context.Background(), "10000032")
	if err != nil || !exists {
		t.Fatalf("expected patient 10000032 to exist, got %v %v", exists, err)
	}
	exists, _ = s.PatientExists(context.Background(), "99999999")
	if exists {
		t.Error("expected unknown patient to not exist")
	}

	notes, err := s.ListNotes(context.Background(), "10000032")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notes) != 3 {
		t.Fatalf("expected 3 notes, got %d", len(notes))
	}

	// Most-recent-first across both files.
	wantOrder := []string{"10000032-DS-22", "10000032-DS-21", "10000032-RR-14"}
	for i, want := range wantOrder {
		if notes[i].NoteID != want {
			t.Errorf("note %d: expected %s, got %s", i, want, notes[i].NoteID)
		}
	}

	if notes[2].NoteType != "radiology" {
		t.Errorf("expected LR mapped to radiology, got %q", notes[2].NoteType)
	}
	if notes[0].NoteType != "discharge" {
		t.Errorf("expected DS mapped to discharge, got %q", notes[0].NoteType)
	}
	if notes[0].ChartTime == nil {
		t.Error("expected chart time to be parsed")
	}
}

func TestLoadMIMICStore_MissingFile(t *testing.T) {
	if _, err := LoadMIMICStore(t.TempDir(), false, testLogger()); err == nil {
		t.Fatal("expected error for missing csv files")
	}
}

func TestMIMICStore_ListNotesCopies(t *testing.T) {
	dir := writeMIMICFixtures(t)
	s, err := LoadMIMICStore(dir, false, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	notes, _ := s.ListNotes(context.Background(), "10000032")
	notes[0].Text = "mutated"

	again, _ := s.ListNotes(context.Background(), "10000032")
	if again[0].Text == "mutated" {
		t.Error("ListNotes must return a copy, not the backing slice")
	}
}

func TestMIMICStore_Metadata(t *testing.T) {
	dir := writeMIMICFixtures(t)
	s, err := LoadMIMICStore(dir, false, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	md, err := s.Metadata(context.Background(), "10000032")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if md.MRN != "10000032" {
		t.Errorf("expected mrn 10000032, got %s", md.MRN)
	}
}
