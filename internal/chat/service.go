package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/som-shahlab/chart-review-with-llms/internal/cache"
	"github.com/som-shahlab/chart-review-with-llms/internal/events"
	"github.com/som-shahlab/chart-review-with-llms/internal/llm"
	"github.com/som-shahlab/chart-review-with-llms/internal/pool"
	"github.com/som-shahlab/chart-review-with-llms/internal/records"
)

// Result is the payload returned to the API caller. Response is the
// serialized AggregateAnswer; on a cache hit it is byte-identical to the
// original run's payload.
type Result struct {
	PatientID string          `json:"patient_id"`
	Query     string          `json:"query"`
	MessageID string          `json:"message_id"`
	Response  json.RawMessage `json:"response"`
	Cached    bool            `json:"-"`
}

// ServiceConfig carries the tunables resolved once at startup.
type ServiceConfig struct {
	DefaultModel string
	Temperature  float64
	Backoff      time.Duration
	// Cache hits sleep a random duration in [HitDelayMin, HitDelayMax] so a
	// cached answer does not return suspiciously instantly. Zero disables.
	HitDelayMin time.Duration
	HitDelayMax time.Duration
}

// Service runs the full query pipeline: cache lookup, per-note fan-out,
// aggregation, cache store.
type Service struct {
	backend llm.Backend
	cache   *cache.Cache
	events  *events.Publisher
	exec    pool.Executor
	cfg     ServiceConfig
	logger  *slog.Logger
}

func NewService(backend llm.Backend, c *cache.Cache, ev *events.Publisher, exec pool.Executor, cfg ServiceConfig, logger *slog.Logger) *Service {
	return &Service{
		backend: backend,
		cache:   c,
		events:  ev,
		exec:    exec,
		cfg:     cfg,
		logger:  logger,
	}
}

// Query answers the conversation's latest user message over the patient's
// notes. With useCache, an identical (patient, query) pair returns the
// persisted answer without touching the model backend.
func (s *Service) Query(ctx context.Context, store records.Store, patientID string, conv []llm.Message, useCache bool, model string) (*Result, error) {
	if patientID == "" {
		return nil, ErrMissingPatientID
	}
	if len(conv) == 0 {
		return nil, ErrNoMessages
	}
	if conv[len(conv)-1].Role != llm.RoleUser {
		return nil, ErrLastNotUser
	}

	exists, err := store.PatientExists(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("check patient: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %q in store %q", ErrPatientNotFound, patientID, store.Name())
	}

	query := conv[len(conv)-1].Content
	if model == "" {
		model = s.cfg.DefaultModel
	}

	key := cache.Key(patientID, query)
	if useCache {
		if entry, ok := s.cache.Get(key); ok {
			s.logger.Info("cache hit", "patient_id", patientID, "key", key)
			s.simulateLatency(ctx)
			s.events.QueryAnswered(events.QueryAnswered{
				PatientID: patientID,
				Query:     query,
				MessageID: entry.MessageID,
				Store:     store.Name(),
				Cached:    true,
				Timestamp: time.Now().UTC(),
			})
			return &Result{
				PatientID: patientID,
				Query:     query,
				MessageID: entry.MessageID,
				Response:  entry.Response,
				Cached:    true,
			}, nil
		}
	}

	notes, err := store.ListNotes(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	s.logger.Info("running query over notes",
		"patient_id", patientID,
		"notes", len(notes),
		"model", model,
		"store", store.Name(),
	)

	opts := Options{Model: model, Temperature: s.cfg.Temperature, Backoff: s.cfg.Backoff}
	start := time.Now()

	noteResults, err := runPerNote(ctx, s.backend, s.exec, conv, notes, opts, s.logger)
	if err != nil {
		return nil, err
	}

	agg, err := aggregate(ctx, s.backend, conv, noteResults, opts, s.logger)
	if err != nil {
		return nil, err
	}

	response, err := json.Marshal(agg)
	if err != nil {
		return nil, fmt.Errorf("marshal aggregate answer: %w", err)
	}

	messageID := uuid.NewString()
	entry := cache.Entry{
		PatientID: patientID,
		Query:     query,
		MessageID: messageID,
		Response:  response,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.cache.Put(key, entry); err != nil {
		// A failed store degrades to an uncached answer, nothing more.
		s.logger.Warn("cache store failed", "key", key, "error", err)
	}

	s.events.QueryAnswered(events.QueryAnswered{
		PatientID:  patientID,
		Query:      query,
		MessageID:  messageID,
		Store:      store.Name(),
		Cached:     false,
		NoteCount:  len(notes),
		DurationMS: time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	})

	return &Result{
		PatientID: patientID,
		Query:     query,
		MessageID: messageID,
		Response:  response,
	}, nil
}

func (s *Service) simulateLatency(ctx context.Context) {
	if s.cfg.HitDelayMax <= 0 {
		return
	}
	delay := s.cfg.HitDelayMin
	if spread := s.cfg.HitDelayMax - s.cfg.HitDelayMin; spread > 0 {
		delay += time.Duration(rand.Int63n(int64(spread)))
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}
