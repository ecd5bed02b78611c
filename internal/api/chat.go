package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/som-shahlab/chart-review-with-llms/internal/chat"
	"github.com/som-shahlab/chart-review-with-llms/internal/llm"
	"github.com/som-shahlab/chart-review-with-llms/internal/records"
)

type settings struct {
	Store    string `json:"store,omitempty"`
	Model    string `json:"model,omitempty"`
	UseCache *bool  `json:"use_cache,omitempty"` // defaults to true
}

type chatRequest struct {
	PatientID string        `json:"patient_id"`
	Messages  []llm.Message `json:"messages"`
	Settings  settings      `json:"settings"`
}

type patientInfoRequest struct {
	Settings settings `json:"settings"`
}

// chat handles POST /api/v1/chat: runs the query pipeline and returns the
// aggregate answer.
func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}

	store, err := s.registry.Resolve(req.Settings.Store)
	if err != nil {
		writeError(w, http.StatusBadRequest, "UNKNOWN_STORE", err.Error())
		return
	}

	useCache := true
	if req.Settings.UseCache != nil {
		useCache = *req.Settings.UseCache
	}

	s.logger.Info("chat request",
		"patient_id", req.PatientID,
		"n_messages", len(req.Messages),
		"store", store.Name(),
		"use_cache", useCache,
	)

	result, err := s.service.Query(r.Context(), store, req.PatientID, req.Messages, useCache, req.Settings.Model)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": result})
}

// patientInfo handles POST /api/v1/patients/{patientID}: patient metadata and
// the full note listing, most recent first.
func (s *Server) patientInfo(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	if patientID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PATIENT_ID", "missing patient id")
		return
	}

	var req patientInfoRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
			return
		}
	}

	store, err := s.registry.Resolve(req.Settings.Store)
	if err != nil {
		writeError(w, http.StatusBadRequest, "UNKNOWN_STORE", err.Error())
		return
	}

	exists, err := store.PatientExists(r.Context(), patientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !exists {
		writeError(w, http.StatusBadRequest, "PATIENT_NOT_FOUND", "patient not found: "+patientID)
		return
	}

	metadata, err := store.Metadata(r.Context(), patientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	notes, err := store.ListNotes(r.Context(), patientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"metadata": struct {
				records.Metadata
				NNotes int `json:"n_notes"`
			}{metadata, len(notes)},
			"notes": notes,
		},
	})
}

// writePipelineError maps the pipeline's failure taxonomy onto HTTP codes.
// Validation problems are the caller's fault; stage failures are ours.
func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrMissingPatientID):
		writeError(w, http.StatusBadRequest, "MISSING_PATIENT_ID", err.Error())
	case errors.Is(err, chat.ErrNoMessages):
		writeError(w, http.StatusBadRequest, "NO_MESSAGES", err.Error())
	case errors.Is(err, chat.ErrLastNotUser):
		writeError(w, http.StatusBadRequest, "LAST_MESSAGE_NOT_USER", err.Error())
	case errors.Is(err, chat.ErrPatientNotFound):
		writeError(w, http.StatusBadRequest, "PATIENT_NOT_FOUND", err.Error())
	case errors.Is(err, chat.ErrFanOutFailed):
		writeError(w, http.StatusInternalServerError, "FAN_OUT_FAILED", err.Error())
	case errors.Is(err, chat.ErrAggregationFailed):
		writeError(w, http.StatusInternalServerError, "AGGREGATION_FAILED", err.Error())
	default:
		s.logger.Error("chat pipeline error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}
