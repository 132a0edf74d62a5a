package handler

import (
	"errors"
	"net/http"

	"github.com/google/go-github/v57/github"
	"github.com/nikhilbarthwal/triagent/internal/api/response"
	"github.com/nikhilbarthwal/triagent/internal/learning"
)

const maxWebhookBody = 1 << 20

// NewGitHubWebhookHandler returns an http.HandlerFunc for
// POST /api/v1/webhooks/github. Closed pull_request deliveries feed the
// learning loop: merged PRs become fix patterns, rejected ones antipatterns.
// The payload signature is verified against the shared webhook secret.
func NewGitHubWebhookHandler(svc Learner, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// ValidatePayload skips verification with an empty token; an unset
		// secret must not leave the endpoint open.
		if secret == "" {
			response.Error(w, http.StatusUnauthorized, "INVALID_SIGNATURE",
				"Webhook secret is not configured", nil)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
		payload, err := github.ValidatePayload(r, []byte(secret))
		if err != nil {
			response.Error(w, http.StatusUnauthorized, "INVALID_SIGNATURE",
				"Webhook signature verification failed", nil)
			return
		}

		event, err := github.ParseWebHook(github.WebHookType(r), payload)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid webhook payload", nil)
			return
		}

		pr, ok := event.(*github.PullRequestEvent)
		if !ok {
			response.Accepted(w, map[string]any{"ignored": true, "event": github.WebHookType(r)})
			return
		}
		if pr.GetAction() != "closed" {
			response.Accepted(w, map[string]any{"ignored": true, "action": pr.GetAction()})
			return
		}

		number := pr.GetPullRequest().GetNumber()
		pattern, err := svc.RecordOutcome(r.Context(), number, pr.GetPullRequest().GetMerged())
		if err != nil {
			if errors.Is(err, learning.ErrNoAnalysisForPR) {
				// Not one of ours; acknowledge so GitHub stops redelivering.
				response.Accepted(w, map[string]any{"ignored": true, "pr": number})
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to record PR outcome", nil)
			return
		}

		response.JSON(w, map[string]any{
			"pattern_id": pattern.ID,
			"kind":       pattern.Kind,
			"pr":         number,
		})
	}
}
