package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbarthwal/triagent/internal/api/response"
	"github.com/nikhilbarthwal/triagent/internal/orchestrator"
	"github.com/nikhilbarthwal/triagent/internal/store"
	"github.com/nikhilbarthwal/triagent/pkg/models"
)

var validQueueStatuses = map[string]bool{
	"":                          true,
	models.QueueStatusPending:   true,
	models.QueueStatusAnalyzing: true,
	models.QueueStatusDone:      true,
	models.QueueStatusFailed:    true,
	models.QueueStatusSkipped:   true,
}

// NewListQueueHandler returns an http.HandlerFunc for GET /api/v1/queue.
// Entries come back ordered by score descending, then last seen descending.
func NewListQueueHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		status := q.Get("status")
		if !validQueueStatuses[status] {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"status must be one of pending, analyzing, done, failed, skipped", nil)
			return
		}

		page := queryInt(q.Get("page"), 1)
		limit := queryInt(q.Get("limit"), 50)
		if limit > 200 {
			limit = 200
		}

		entries, total, err := st.ListQueue(r.Context(), store.QueueFilter{
			Status:   status,
			Priority: q.Get("priority"),
			Page:     page,
			Limit:    limit,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list queue", nil)
			return
		}
		if entries == nil {
			entries = []*models.QueueEntry{}
		}

		response.Collection(w, entries, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

// NewRemoveQueueEntryHandler returns an http.HandlerFunc for
// DELETE /api/v1/queue/{issueID}.
func NewRemoveQueueEntryHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issueID := chi.URLParam(r, "issueID")

		if err := st.RemoveQueueEntry(r.Context(), issueID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Queue entry not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to remove queue entry", nil)
			return
		}

		response.NoContent(w)
	}
}

// NewAnalyzeIssueHandler returns an http.HandlerFunc for
// POST /api/v1/queue/{issueID}/analyze.
func NewAnalyzeIssueHandler(svc Scanner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issueID := chi.URLParam(r, "issueID")

		analysisID, err := svc.DispatchIssue(r.Context(), issueID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Queue entry not found", nil)
			return
		case errors.Is(err, orchestrator.ErrDuplicateDispatch):
			response.Error(w, http.StatusConflict, "DUPLICATE_DISPATCH",
				"An analysis is already running for this issue's group", nil)
			return
		case err != nil:
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to dispatch analysis", nil)
			return
		}

		response.Accepted(w, map[string]any{
			"analysis_id": analysisID,
			"issue_id":    issueID,
		})
	}
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
