package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nikhilbarthwal/triagent/internal/api/response"
	"github.com/nikhilbarthwal/triagent/internal/learning"
	"github.com/nikhilbarthwal/triagent/internal/store"
	"github.com/nikhilbarthwal/triagent/pkg/models"
)

// Learner is the learning store surface the handlers need.
type Learner interface {
	Stats(ctx context.Context) (*models.LearningStats, error)
	Bootstrap(ctx context.Context, params learning.BootstrapParams) (*learning.BootstrapResult, error)
	RecordOutcome(ctx context.Context, prNumber int, merged bool) (*models.Pattern, error)
}

// NewStatsHandler returns an http.HandlerFunc for GET /api/v1/stats.
func NewStatsHandler(svc Learner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Stats(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to compute learning stats", nil)
			return
		}
		response.JSON(w, stats)
	}
}

// NewBootstrapHandler returns an http.HandlerFunc for POST /api/v1/bootstrap.
// Re-running inside the cooldown window is reported as skipped, not an error.
func NewBootstrapHandler(svc Learner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Projects       []string `json:"projects"`
			MaxPerProject  int      `json:"max_per_project"`
			MinOccurrences int      `json:"min_occurrences"`
			MonthsBack     int      `json:"months_back"`
		}
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
				return
			}
		}

		result, err := svc.Bootstrap(r.Context(), learning.BootstrapParams{
			Projects:       req.Projects,
			MaxPerProject:  req.MaxPerProject,
			MinOccurrences: req.MinOccurrences,
			MonthsBack:     req.MonthsBack,
		})
		if err != nil {
			response.Error(w, http.StatusBadGateway, "BOOTSTRAP_FAILED",
				"Bootstrap run failed", nil)
			return
		}

		response.JSON(w, result)
	}
}

// NewBootstrapStatusHandler returns an http.HandlerFunc for
// GET /api/v1/bootstrap/status. A deployment that never ran bootstrap
// reports status never_run rather than 404.
func NewBootstrapStatusHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := st.GetBootstrapState(r.Context())
		if errors.Is(err, store.ErrNotFound) {
			response.JSON(w, map[string]any{"status": "never_run"})
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to read bootstrap state", nil)
			return
		}
		response.JSON(w, map[string]any{
			"status":           models.BootstrapStatusCompleted,
			"last_run_at":      state.LastRunAt,
			"patterns_created": state.PatternsCreated,
		})
	}
}

// NewListPatternsHandler returns an http.HandlerFunc for GET /api/v1/patterns.
func NewListPatternsHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		limit := queryInt(q.Get("limit"), 50)
		if limit > 200 {
			limit = 200
		}

		patterns, err := st.ListPatterns(r.Context(), store.PatternFilter{
			Kind:      q.Get("kind"),
			ErrorType: q.Get("error_type"),
			Limit:     limit,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list patterns", nil)
			return
		}
		if patterns == nil {
			patterns = []*models.Pattern{}
		}

		response.JSON(w, patterns)
	}
}
