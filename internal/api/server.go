// Package api exposes the workflow instantiation engine over HTTP: an
// inbound trigger endpoint, instance read-back, and a websocket event
// stream. The engine itself is transport-agnostic; this is one delivery
// mechanism among possible others.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dealflowhq/dealflow/internal/db"
	"github.com/dealflowhq/dealflow/internal/engine"
	"github.com/dealflowhq/dealflow/internal/events"
	"github.com/tidwall/gjson"
)

// Server serves the dealflow HTTP API.
type Server struct {
	engine    *engine.Engine
	store     *db.DB
	publisher events.Publisher
	logger    *slog.Logger
	httpSrv   *http.Server
}

// NewServer creates a Server.
func NewServer(eng *engine.Engine, store *db.DB, pub events.Publisher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: eng, store: store, publisher: pub, logger: logger}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/triggers", s.handleTrigger)
	mux.HandleFunc("GET /api/instances", s.handleListInstances)
	mux.HandleFunc("GET /api/instances/{id}", s.handleGetInstance)
	mux.HandleFunc("GET /api/instances/{id}/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	return mux
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()

	s.logger.Info("api server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handleTrigger accepts a trigger event and runs the engine synchronously.
// The body is parsed tolerantly: unknown fields are ignored and missing
// ones surface as InvalidTriggerError from the engine.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	event := engine.TriggerEvent{
		SourceTable:    gjson.GetBytes(body, "source_table").String(),
		RecordID:       gjson.GetBytes(body, "record_id").String(),
		PreviousStatus: gjson.GetBytes(body, "previous_status").String(),
		NewStatus:      gjson.GetBytes(body, "new_status").String(),
	}
	if ts := gjson.GetBytes(body, "occurred_at").String(); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			event.OccurredAt = t
		}
	}

	result, err := s.engine.InstantiateWorkflows(r.Context(), event)
	if err != nil {
		var invalidErr *engine.InvalidTriggerError
		var unsupportedErr *engine.UnsupportedTableError
		var notFoundErr *engine.RecordNotFoundError
		switch {
		case errors.As(err, &invalidErr), errors.As(err, &unsupportedErr):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &notFoundErr):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			s.logger.Error("trigger processing failed", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	recordType := r.URL.Query().Get("record_type")
	recordID := r.URL.Query().Get("record_id")

	instances, err := s.store.ListWorkflowInstances(r.Context(), recordType, recordID)
	if err != nil {
		s.logger.Error("list instances failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": instances})
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	inst, err := s.store.GetWorkflowInstance(r.Context(), id)
	if err != nil {
		s.logger.Error("get instance failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if inst == nil {
		writeError(w, http.StatusNotFound, "workflow instance not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tasks, err := s.store.ListTaskInstances(r.Context(), id)
	if err != nil {
		s.logger.Error("list tasks failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
