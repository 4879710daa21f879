package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-dali/internal/commissioning"
)

// maxListLimit caps ?limit on the run history.
const maxListLimit = 200

// runErrorResponse carries the partial result alongside the error, so the
// caller still sees the assignments made before the failure.
type runErrorResponse struct {
	Error
	Result *commissioning.Result `json:"result,omitempty"`
}

// handleStartRun performs one commissioning pass and answers with its
// result. The run is detached from the request context: a client that
// disconnects does not abort it halfway through addressing.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	s.logger.Info("commissioning requested",
		"subject", claims.Subject,
		"role", string(claims.Role),
		"request_id", r.Context().Value(ctxKeyRequestID))

	res, err := s.commissioner.Run(context.WithoutCancel(r.Context()))
	if err == nil {
		writeJSON(w, http.StatusOK, res)
		return
	}

	status, code := runErrorStatus(err)
	writeJSON(w, status, runErrorResponse{
		Error:  Error{Status: status, Code: code, Message: err.Error()},
		Result: res,
	})
}

// runErrorStatus maps a run error onto an HTTP status and error code.
func runErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, commissioning.ErrRunInProgress):
		return http.StatusConflict, ErrCodeRunInProgress
	case errors.Is(err, commissioning.ErrPoolExhausted):
		return http.StatusInsufficientStorage, ErrCodePoolExhausted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ErrCodeCancelled
	default:
		return http.StatusBadGateway, ErrCodeBusFault
	}
}

// handleScan lists the short addresses currently answering on the bus.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	used, err := s.commissioner.ScanOnly(r.Context())
	if err != nil {
		status, code := runErrorStatus(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"used":  used,
		"count": used.Len(),
	})
}

// handleCommissioningStatus reports whether a run currently holds the bus.
func (s *Server) handleCommissioningStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"running": s.commissioner.Running()})
}

// handleListRuns returns stored runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "run history is not configured")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			writeBadRequest(w, "limit must be between 1 and "+strconv.Itoa(maxListLimit))
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing commissioning runs", "error", err)
		writeInternalError(w, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []commissioning.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleGetRun returns one stored run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "run history is not configured")
		return
	}

	id := chi.URLParam(r, "id")
	res, err := s.runs.GetRun(r.Context(), id)
	if errors.Is(err, commissioning.ErrRunNotFound) {
		writeNotFound(w, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("getting commissioning run", "run_id", id, "error", err)
		writeInternalError(w, "failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
