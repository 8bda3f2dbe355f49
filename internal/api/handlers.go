package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/perfbench/stressd/internal/runmanager"
	"github.com/perfbench/stressd/internal/stressor"
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 * 1024 * 1024

func (s *Server) handleStress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w, r.Method, "POST")
		return
	}

	var req stressor.Request
	if err := json.NewDecoder(limitedBody(w, r)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, NewInvalidRequestErrorResponse(
			"Invalid JSON request body",
			map[string]interface{}{"parse_error": err.Error()},
		))
		return
	}

	view, err := s.runManager.StartTest(r.Context(), req)
	if err != nil {
		s.handleRunManagerError(w, "start", err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, &StartTestResponse{
		RunID:   view.RunID,
		State:   string(view.State),
		Request: view.Request,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w, r.Method, "POST")
		return
	}

	view, err := s.runManager.StopTest(r.Context())
	if err != nil {
		s.handleRunManagerError(w, "stop", err)
		return
	}

	s.writeJSON(w, http.StatusOK, &StopTestResponse{
		RunID: view.RunID,
		State: string(view.State),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w, r.Method, "POST")
		return
	}

	if err := s.runManager.Reset(); err != nil {
		s.handleRunManagerError(w, "reset", err)
		return
	}

	s.writeJSON(w, http.StatusOK, &ResetResponse{State: runmanager.StateIdle})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, "GET")
		return
	}

	view := s.runManager.CurrentStatus()
	if view == nil {
		s.writeJSON(w, http.StatusOK, &StatusResponse{State: runmanager.StateIdle})
		return
	}

	req := view.Request
	s.writeJSON(w, http.StatusOK, &StatusResponse{
		State:        string(view.State),
		RunID:        view.RunID,
		Request:      &req,
		StartedAtMs:  view.StartedAtMs,
		FinishedAtMs: view.FinishedAtMs,
		ExitCode:     view.ExitCode,
		Error:        view.Error,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, "GET")
		return
	}

	cursor, err := parseQueryInt(r, "cursor", 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, NewInvalidRequestErrorResponse(
			"Invalid cursor parameter",
			map[string]interface{}{"parse_error": err.Error()},
		))
		return
	}
	limit, err := parseQueryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, NewInvalidRequestErrorResponse(
			"Invalid limit parameter",
			map[string]interface{}{"parse_error": err.Error()},
		))
		return
	}

	evts, err := s.runManager.TailEvents(cursor, limit)
	if err != nil {
		s.handleRunManagerError(w, "tail events", err)
		return
	}

	runID := ""
	if view := s.runManager.CurrentStatus(); view != nil {
		runID = view.RunID
	}

	s.writeJSON(w, http.StatusOK, &EventsResponse{
		RunID:  runID,
		Events: evts,
		Count:  len(evts),
	})
}

func (s *Server) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, "GET")
		return
	}

	s.mu.Lock()
	reader := s.sysReader
	s.mu.Unlock()

	if reader == nil {
		s.writeError(w, http.StatusServiceUnavailable, &ErrorResponse{
			ErrorType:    ErrorTypeUnavailable,
			ErrorCode:    "METRICS_NOT_CONFIGURED",
			ErrorMessage: "System metrics reader not configured",
			Retryable:    false,
		})
		return
	}

	s.writeJSON(w, http.StatusOK, reader.Read(r.Context()))
}

func (s *Server) handlePrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, "GET")
		return
	}

	s.mu.Lock()
	mc := s.metricsCollector
	s.mu.Unlock()

	if mc == nil {
		s.writeError(w, http.StatusServiceUnavailable, &ErrorResponse{
			ErrorType:    ErrorTypeUnavailable,
			ErrorCode:    "METRICS_NOT_CONFIGURED",
			ErrorMessage: "Metrics collector not configured",
			Retryable:    false,
		})
		return
	}

	mc.SyncFromProviders()
	output := mc.Expose()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(output))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, "GET")
		return
	}
	s.writeJSON(w, http.StatusOK, &HealthResponse{Status: "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, "GET")
		return
	}

	s.mu.Lock()
	binary := s.stressorBinary
	s.mu.Unlock()

	ready := s.runManager != nil
	reason := ""
	if !ready {
		reason = "run manager not configured"
	} else if binary != "" {
		if err := stressor.CheckBinary(binary); err != nil {
			ready = false
			reason = err.Error()
		}
	}

	status := "ready"
	if !ready {
		status = "not_ready"
	}

	s.writeJSON(w, http.StatusOK, &ReadyResponse{
		Status: status,
		Ready:  ready,
		Reason: reason,
	})
}

func (s *Server) handleRunManagerError(w http.ResponseWriter, operation string, err error) {
	if rmErr := runmanager.AsRunManagerError(err); rmErr != nil {
		switch rmErr.Kind {
		case runmanager.ErrKindValidation:
			details := map[string]interface{}{}
			var vErr *stressor.ValidationError
			if errors.As(rmErr.Cause, &vErr) {
				details["field"] = vErr.Field
				details["message"] = vErr.Message
			} else if rmErr.Cause != nil {
				details["message"] = rmErr.Cause.Error()
			}
			s.writeError(w, http.StatusBadRequest, NewValidationErrorResponse(
				"Load test request validation failed", details))
			return
		case runmanager.ErrKindConflict:
			s.writeError(w, http.StatusConflict, NewConflictErrorResponse(rmErr.RunID))
			return
		case runmanager.ErrKindNotFound:
			s.writeError(w, http.StatusNotFound, NewNoActiveTestErrorResponse(operation))
			return
		case runmanager.ErrKindSpawn:
			s.writeError(w, http.StatusInternalServerError, NewSpawnErrorResponse(rmErr.RunID, rmErr.Error()))
			return
		default:
			s.writeError(w, http.StatusInternalServerError, NewInternalErrorResponse(rmErr.Message))
			return
		}
	}

	s.writeError(w, http.StatusInternalServerError, NewInternalErrorResponse(err.Error()))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, errResp *ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errResp)
}

func (s *Server) writeMethodNotAllowed(w http.ResponseWriter, method, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, &ErrorResponse{
		ErrorType:    ErrorTypeInvalidArgument,
		ErrorCode:    ErrorCodeMethodNotAllowed,
		ErrorMessage: "Method not allowed",
		Retryable:    false,
		Details: map[string]interface{}{
			"method":  method,
			"allowed": allowed,
		},
	})
}

func parseQueryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func limitedBody(w http.ResponseWriter, r *http.Request) io.Reader {
	return http.MaxBytesReader(w, r.Body, maxRequestBodySize)
}
