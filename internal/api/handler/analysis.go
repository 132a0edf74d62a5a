package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nikhilbarthwal/triagent/internal/api/response"
	"github.com/nikhilbarthwal/triagent/internal/store"
	"github.com/nikhilbarthwal/triagent/pkg/models"
)

var validAnalysisStates = map[string]bool{
	"":                            true,
	models.AnalysisStatePending:   true,
	models.AnalysisStateRunning:   true,
	models.AnalysisStateCompleted: true,
	models.AnalysisStateFailed:    true,
	models.AnalysisStateCancelled: true,
}

// NewListAnalysesHandler returns an http.HandlerFunc for GET /api/v1/analyses.
func NewListAnalysesHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		state := q.Get("state")
		if !validAnalysisStates[state] {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"state must be one of pending, running, completed, failed, cancelled", nil)
			return
		}

		page := queryInt(q.Get("page"), 1)
		limit := queryInt(q.Get("limit"), 50)
		if limit > 200 {
			limit = 200
		}

		records, total, err := st.ListAnalyses(r.Context(), store.AnalysisFilter{
			State:   state,
			IssueID: q.Get("issue_id"),
			Page:    page,
			Limit:   limit,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list analyses", nil)
			return
		}
		if records == nil {
			records = []*models.AnalysisRecord{}
		}

		response.Collection(w, records, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

// NewGetAnalysisHandler returns an http.HandlerFunc for
// GET /api/v1/analyses/{analysisID}.
func NewGetAnalysisHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := analysisIDParam(w, r)
		if !ok {
			return
		}

		rec, err := st.GetAnalysis(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Analysis not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load analysis", nil)
			return
		}

		response.JSON(w, rec)
	}
}

// NewCancelAnalysisHandler returns an http.HandlerFunc for
// POST /api/v1/analyses/{analysisID}/cancel. Cancellation is cooperative: a
// running unit finishes its current stage before stopping, so the response
// only acknowledges the request.
func NewCancelAnalysisHandler(svc Scanner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := analysisIDParam(w, r)
		if !ok {
			return
		}

		accepted, err := svc.Cancel(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Analysis not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to cancel analysis", nil)
			return
		}

		if !accepted {
			response.Error(w, http.StatusConflict, "ALREADY_TERMINAL",
				"Analysis has already finished", nil)
			return
		}

		response.Accepted(w, map[string]any{
			"analysis_id": id,
			"cancelling":  true,
		})
	}
}

func analysisIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "analysisID")
	id, err := uuid.Parse(raw)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"analysisID must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}
