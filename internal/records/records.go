// Package records exposes patient clinical notes from the supported backing
// stores: MIMIC-IV flat CSV files, n2c2-2018 XML files, and Postgres.
package records

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUnknownStore is returned when a request names a store kind that is not
// registered.
var ErrUnknownStore = errors.New("unknown store")

// Note is one clinical note, immutable once loaded.
type Note struct {
	NoteID    string     `json:"note_id"`
	Text      string     `json:"text"`
	NoteType  string     `json:"note_type,omitempty"`
	ChartTime *time.Time `json:"chart_time,omitempty"`
	HadmID    string     `json:"hadm_id,omitempty"`
	PatientID string     `json:"patient_id,omitempty"`
}

// Criterion is a clinical-trial matching label from the n2c2-2018 corpus.
type Criterion struct {
	Name  string `json:"name"`
	IsMet bool   `json:"is_met"`
}

// Metadata is the patient header shown alongside the notes.
type Metadata struct {
	Name   string      `json:"name"`
	Age    string      `json:"age"`
	MRN    string      `json:"mrn"`
	Labels []Criterion `json:"labels,omitempty"`
}

// Store is a patient-record backend. ListNotes returns notes most-recent-first
// with undated notes last; the query pipeline's recency tie-break depends on
// that ordering.
type Store interface {
	Name() string
	PatientExists(ctx context.Context, patientID string) (bool, error)
	ListNotes(ctx context.Context, patientID string) ([]Note, error)
	Metadata(ctx context.Context, patientID string) (Metadata, error)
}

// Kind is the closed set of store implementations.
type Kind string

const (
	KindMIMICIV  Kind = "mimiciv-notes"
	KindN2C2     Kind = "n2c2-2018"
	KindPostgres Kind = "postgres"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindMIMICIV, KindN2C2, KindPostgres:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStore, s)
}

// Registry holds the stores configured at startup. Requests resolve a store by
// kind once at entry; an empty name selects the default.
type Registry struct {
	stores map[Kind]Store
	def    Kind
}

func NewRegistry(def Kind) *Registry {
	return &Registry{stores: make(map[Kind]Store), def: def}
}

func (r *Registry) Register(k Kind, s Store) {
	r.stores[k] = s
}

func (r *Registry) Resolve(name string) (Store, error) {
	k := r.def
	if name != "" {
		parsed, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		k = parsed
	}
	s, ok := r.stores[k]
	if !ok {
		return nil, fmt.Errorf("%w: %q not configured", ErrUnknownStore, k)
	}
	return s, nil
}

// Kinds returns the registered kinds, for status reporting.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.stores))
	for k := range r.stores {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// sortNotes orders notes most-recent-first; notes without a chart time sort
// after all dated notes, keeping their relative order.
func sortNotes(notes []Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		ti, tj := notes[i].ChartTime, notes[j].ChartTime
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.After(*tj)
		}
	})
}
