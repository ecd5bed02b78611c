package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/som-shahlab/chart-review-with-llms/internal/chat"
	"github.com/som-shahlab/chart-review-with-llms/internal/records"
)

type Server struct {
	router   *chi.Mux
	httpSrv  *http.Server
	service  *chat.Service
	registry *records.Registry
	logger   *slog.Logger
}

func NewServer(port int, service *chat.Service, registry *records.Registry, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		httpSrv:  &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: router},
		service:  service,
		registry: registry,
		logger:   logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/status", s.status)
	router.Post("/api/v1/chat", s.chat)
	router.Post("/api/v1/patients/{patientID}", s.patientInfo)

	return s
}

// Start blocks serving requests until Shutdown is called. It returns
// http.ErrServerClosed after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.httpSrv.Addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops accepting new connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "chart-review",
		"stores":  s.registry.Kinds(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}
