package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/job"
	"github.com/xraph/beacon/relay"
)

// ActiveJobResponse is the body of GET /v1/jobs/active. JobID is empty
// when the scope has no active job.
type ActiveJobResponse struct {
	Scope string      `json:"scope"`
	JobID string      `json:"job_id"`
	Job   *job.Record `json:"job,omitempty"`
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	Relay    relay.Stats          `json:"relay"`
	Sessions []relay.SessionStats `json:"sessions"`
	Streams  int64                `json:"streams"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Relay  string `json:"relay"`
	Error  string `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	limit := s.catchUpLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid limit: "+raw)
			return
		}
		limit = n
	}

	jobID := q.Get("job_id")
	if jobID == "" {
		active, err := s.store.ActiveJob(ctx, s.scope)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		if active == "" {
			s.writeJSON(w, http.StatusOK, []event.Event{})
			return
		}
		jobID = active
	}

	events, err := s.store.QueryEvents(ctx, jobID, limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) activeJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := ActiveJobResponse{Scope: s.scope}
	jobID, err := s.store.ActiveJob(ctx, s.scope)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if jobID != "" {
		rec, getErr := s.store.GetJob(ctx, jobID)
		switch {
		case getErr == nil:
			resp.JobID = jobID
			resp.Job = rec
		case errors.Is(getErr, beacon.ErrJobNotFound):
			resp.JobID = jobID
		default:
			s.writeStoreError(w, getErr)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, StatsResponse{
		Relay:    s.relay.Stats(),
		Sessions: s.relay.Sessions(),
		Streams:  s.streams.Load(),
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Relay: string(s.relay.State())}
	status := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		resp.Status = "unavailable"
		resp.Error = err.Error()
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

// ──────────────────────────────────────────────────
// Response helpers
// ──────────────────────────────────────────────────

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("server: write response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeStoreError maps store errors onto HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, beacon.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, beacon.ErrStoreUnavailable), errors.Is(err, beacon.ErrStoreClosed):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
