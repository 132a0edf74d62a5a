package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/nikhilbarthwal/triagent/internal/api/response"
	"github.com/nikhilbarthwal/triagent/internal/orchestrator"
	"github.com/nikhilbarthwal/triagent/pkg/issuequery"
)

// Scanner is the orchestrator surface the scan and dispatch handlers need.
type Scanner interface {
	Scan(ctx context.Context, params orchestrator.ScanParams) (*orchestrator.ScanResult, error)
	DispatchIssue(ctx context.Context, issueID string) (uuid.UUID, error)
	Cancel(ctx context.Context, analysisID uuid.UUID) (bool, error)
}

var validTimeframes = map[string]bool{
	"":                   true,
	issuequery.Window24h: true,
	issuequery.Window7d:  true,
	issuequery.Window30d: true,
}

// NewScanHandler returns an http.HandlerFunc for POST /api/v1/scan.
func NewScanHandler(svc Scanner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Timeframe      string `json:"timeframe"`
			MinOccurrences int    `json:"min_occurrences"`
			AutoAnalyze    bool   `json:"auto_analyze"`
		}
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
				return
			}
		}

		if !validTimeframes[req.Timeframe] {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"timeframe must be one of 24h, 7d, 30d", nil)
			return
		}
		if req.MinOccurrences < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"min_occurrences must not be negative", nil)
			return
		}

		result, err := svc.Scan(r.Context(), orchestrator.ScanParams{
			Timeframe:      req.Timeframe,
			MinOccurrences: req.MinOccurrences,
			AutoAnalyze:    req.AutoAnalyze,
		})
		if err != nil {
			response.Error(w, http.StatusBadGateway, "TRACKER_UNAVAILABLE",
				"Issue tracker scan failed", nil)
			return
		}

		response.JSON(w, result)
	}
}
