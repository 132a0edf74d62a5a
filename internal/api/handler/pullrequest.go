package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/nikhilbarthwal/triagent/internal/api/response"
	"github.com/nikhilbarthwal/triagent/internal/pr"
	"github.com/nikhilbarthwal/triagent/internal/store"
	"github.com/nikhilbarthwal/triagent/pkg/models"
)

// PRTracker is the PR lifecycle surface the handlers need.
type PRTracker interface {
	CreateFor(ctx context.Context, analysisID uuid.UUID) (*pr.Ticket, error)
	RefreshStatus(ctx context.Context, analysisID uuid.UUID) (*models.PRStatus, error)
}

// NewCreatePRHandler returns an http.HandlerFunc for
// POST /api/v1/analyses/{analysisID}/pr. Creation is asynchronous; the
// response carries the lifecycle state the caller should poll.
func NewCreatePRHandler(tracker PRTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := analysisIDParam(w, r)
		if !ok {
			return
		}

		ticket, err := tracker.CreateFor(r.Context(), id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Analysis not found", nil)
			return
		case errors.Is(err, pr.ErrNotCompleted):
			response.Error(w, http.StatusConflict, "ANALYSIS_NOT_COMPLETED",
				"Analysis has not produced a result yet", nil)
			return
		case errors.Is(err, pr.ErrNotEligible):
			response.Error(w, http.StatusBadRequest, "NOT_ELIGIBLE",
				"Result confidence is below the fix PR threshold", nil)
			return
		case errors.Is(err, store.ErrPRInProgress):
			// The slot was claimed earlier; report the current state.
			response.JSON(w, ticket)
			return
		case err != nil:
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to start PR creation", nil)
			return
		}

		response.Accepted(w, ticket)
	}
}

// NewGetPRHandler returns an http.HandlerFunc for
// GET /api/v1/analyses/{analysisID}/pr.
func NewGetPRHandler(tracker PRTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := analysisIDParam(w, r)
		if !ok {
			return
		}

		status, err := tracker.RefreshStatus(r.Context(), id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Analysis not found", nil)
			return
		case errors.Is(err, pr.ErrNoPR):
			response.Error(w, http.StatusNotFound, "NO_PR",
				"No pull request recorded for this analysis", nil)
			return
		case err != nil:
			response.Error(w, http.StatusBadGateway, "HOST_UNAVAILABLE",
				"Failed to read pull request status from the code host", nil)
			return
		}

		response.JSON(w, status)
	}
}
