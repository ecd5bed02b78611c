package records

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// noteSeparator divides the concatenated notes inside a patient record's TEXT
// block (100 asterisks, as shipped in the n2c2-2018 release).
var noteSeparator = strings.Repeat("*", 100)

var (
	recordDateRe = regexp.MustCompile(`Record date:\s*(\d{4}-\d{2}-\d{2})`)
	blankLinesRe = regexp.MustCompile(`\n\s*\n`)
)

// debugPatientCap limits loaded patients in debug mode.
const debugPatientCap = 10

type n2c2Patient struct {
	id     string
	notes  []Note
	labels []Criterion
}

// N2C2Store serves the n2c2-2018 clinical-trial cohort selection corpus: one
// XML file per patient, loaded into memory at startup.
type N2C2Store struct {
	patients map[string]n2c2Patient
}

// LoadN2C2Store parses every *.xml file in dir.
func LoadN2C2Store(dir string, debug bool, logger *slog.Logger) (*N2C2Store, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.xml"))
	if err != nil {
		return nil, fmt.Errorf("glob xml files: %w", err)
	}
	sort.Strings(files)
	logger.Info("found patient files", "dir", dir, "count", len(files))

	if debug && len(files) > debugPatientCap {
		files = files[:debugPatientCap]
	}

	s := &N2C2Store{patients: make(map[string]n2c2Patient, len(files))}
	for _, file := range files {
		p, err := parsePatientXML(file)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(file), err)
		}
		s.patients[p.id] = p
	}

	logger.Info("n2c2 store ready", "patients", len(s.patients))
	return s, nil
}

type patientXML struct {
	Text string `xml:"TEXT"`
	Tags struct {
		Criteria []struct {
			XMLName xml.Name
			Met     string `xml:"met,attr"`
		} `xml:",any"`
	} `xml:"TAGS"`
}

// parsePatientXML reads one patient record. The file stem is the patient id;
// the TEXT block holds all notes separated by the asterisk line, each dated by
// a "Record date:" header.
func parsePatientXML(path string) (n2c2Patient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return n2c2Patient{}, err
	}

	var doc patientXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return n2c2Patient{}, fmt.Errorf("unmarshal: %w", err)
	}

	patientID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	text := doc.Text
	// Some records double-wrap the CDATA marker as literal text.
	if strings.HasPrefix(text, "<![CDATA[") && strings.HasSuffix(text, "]]>") {
		text = text[9 : len(text)-3]
	}

	var notes []Note
	for _, raw := range strings.Split(text, noteSeparator) {
		noteText := strings.TrimSpace(raw)
		if noteText == "" {
			continue
		}
		noteText = blankLinesRe.ReplaceAllString(noteText, "\n\n")

		note := Note{
			NoteID:    fmt.Sprintf("%s_%d", patientID, len(notes)),
			Text:      noteText,
			NoteType:  "n2c2-2018",
			PatientID: patientID,
		}
		if m := recordDateRe.FindStringSubmatch(noteText); m != nil {
			if t, err := time.Parse("2006-01-02", m[1]); err == nil {
				note.ChartTime = &t
			}
		}
		notes = append(notes, note)
	}
	sortNotes(notes)

	labels := make([]Criterion, 0, len(doc.Tags.Criteria))
	for _, tag := range doc.Tags.Criteria {
		labels = append(labels, Criterion{Name: tag.XMLName.Local, IsMet: tag.Met == "met"})
	}

	return n2c2Patient{id: patientID, notes: notes, labels: labels}, nil
}

func (s *N2C2Store) Name() string { return string(KindN2C2) }

func (s *N2C2Store) PatientExists(_ context.Context, patientID string) (bool, error) {
	_, ok := s.patients[patientID]
	return ok, nil
}

func (s *N2C2Store) ListNotes(_ context.Context, patientID string) ([]Note, error) {
	p, ok := s.patients[patientID]
	if !ok {
		return nil, nil
	}
	out := make([]Note, len(p.notes))
	copy(out, p.notes)
	return out, nil
}

func (s *N2C2Store) Metadata(_ context.Context, patientID string) (Metadata, error) {
	p := s.patients[patientID]
	return Metadata{Name: "Unknown", Age: "Unknown", MRN: patientID, Labels: p.labels}, nil
}
