// Package pr tracks the fix pull request lifecycle attached to completed
// analyses: a single atomic creation per analysis, cached status reads, and
// bounded resolution polling.
package pr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/nikhilbarthwal/triagent/internal/cache"
	"github.com/nikhilbarthwal/triagent/internal/config"
	"github.com/nikhilbarthwal/triagent/internal/github"
	"github.com/nikhilbarthwal/triagent/internal/store"
	"github.com/nikhilbarthwal/triagent/pkg/models"
)

// ErrNotCompleted is returned when PR creation is requested for an analysis
// that has no completed result.
var ErrNotCompleted = errors.New("analysis has not completed")

// ErrNotEligible is returned when the analysis result's confidence is below
// the auto-fix eligibility bar.
var ErrNotEligible = errors.New("analysis result not eligible for a fix pull request")

// ErrNoPR is returned when a status read is requested before a PR number has
// been recorded for the analysis.
var ErrNoPR = errors.New("no pull request recorded for analysis")

// ErrPollTimeout is returned when a pull request does not resolve within the
// configured polling budget.
var ErrPollTimeout = errors.New("pull request did not resolve within polling budget")

const (
	statusCacheTTL = time.Minute
	createTimeout  = 2 * time.Minute
	createRetries  = 3
	maxTitleLen    = 90
)

// Ticket reports the PR lifecycle state seen by a CreateFor caller.
type Ticket struct {
	AnalysisID uuid.UUID `json:"analysis_id"`
	State      string    `json:"state"`
	Number     int       `json:"number,omitempty"`
	URL        string    `json:"url,omitempty"`
	Branch     string    `json:"branch,omitempty"`
}

// Tracker drives fix pull requests through their lifecycle. Creation is
// asynchronous: CreateFor claims the slot and returns immediately while a
// background goroutine talks to the code host.
type Tracker struct {
	store  store.Store
	cache  cache.Cache
	host   github.Host
	cfg    config.GitHubConfig
	logger *slog.Logger
}

func NewTracker(st store.Store, ca cache.Cache, host github.Host, cfg config.GitHubConfig, logger *slog.Logger) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.PollMaxAttempts <= 0 {
		cfg.PollMaxAttempts = 40
	}
	return &Tracker{
		store:  st,
		cache:  ca,
		host:   host,
		cfg:    cfg,
		logger: logger,
	}
}

// CreateFor claims the PR slot for a completed analysis and starts an
// asynchronous creation attempt. Exactly one caller wins the claim; later
// callers get the current lifecycle state alongside store.ErrPRInProgress.
func (t *Tracker) CreateFor(ctx context.Context, analysisID uuid.UUID) (*Ticket, error) {
	rec, err := t.store.GetAnalysis(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if rec.State != models.AnalysisStateCompleted || rec.Result == nil {
		return nil, fmt.Errorf("%w: state is %s", ErrNotCompleted, rec.State)
	}
	if !rec.Result.PREligible() {
		return nil, fmt.Errorf("%w: confidence %.2f", ErrNotEligible, rec.Result.Confidence)
	}

	if err := t.store.BeginPRCreation(ctx, analysisID); err != nil {
		if errors.Is(err, store.ErrPRInProgress) {
			return &Ticket{
				AnalysisID: analysisID,
				State:      rec.PRState,
				Number:     rec.PRNumber,
				URL:        rec.PRURL,
				Branch:     rec.PRBranch,
			}, err
		}
		return nil, err
	}

	go t.create(rec)

	return &Ticket{AnalysisID: analysisID, State: models.PRStateCreating}, nil
}

// create runs detached from the claiming request. The claim is already
// durable, so a dropped client connection must not abort the attempt.
func (t *Tracker) create(rec *models.AnalysisRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), createTimeout)
	defer cancel()

	req := t.buildRequest(ctx, rec)

	var info *github.PRInfo
	op := func() error {
		var err error
		info, err = t.host.CreateFixPR(ctx, req)
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), createRetries), ctx))
	if err != nil {
		t.logger.Error("fix pr creation failed",
			"analysis_id", rec.ID,
			"branch", req.Branch,
			"error", err)
		if uerr := t.store.UpdatePR(ctx, rec.ID, models.PRStateFailed); uerr != nil {
			t.logger.Error("failed to record pr failure", "analysis_id", rec.ID, "error", uerr)
		}
		return
	}

	err = t.store.UpdatePR(ctx, rec.ID, models.PRStateCreated,
		store.WithPRNumber(info.Number),
		store.WithPRURL(info.URL),
		store.WithPRBranch(info.Branch))
	if err != nil {
		t.logger.Error("failed to record created pr", "analysis_id", rec.ID, "pr", info.Number, "error", err)
		return
	}

	t.logger.Info("fix pr created",
		"analysis_id", rec.ID,
		"pr", info.Number,
		"url", info.URL)
}

func (t *Tracker) buildRequest(ctx context.Context, rec *models.AnalysisRecord) github.CreatePRRequest {
	result := rec.Result
	branch := github.BranchName(rec.ID.String())

	title := "Automated fix"
	if entry, err := t.store.GetQueueEntry(ctx, rec.IssueID); err == nil && entry.Title != "" {
		title = "Fix: " + entry.Title
	} else if result.RootCause != "" {
		title = "Fix: " + result.RootCause
	}
	title = truncate(title, maxTitleLen)

	fixPath := fmt.Sprintf("fixes/%s.md", rec.ID)
	fixContent := result.ProposedFix
	if len(result.AffectedFiles) > 0 {
		fixPath = result.AffectedFiles[0]
	}

	req := github.CreatePRRequest{
		Branch:     branch,
		Title:      title,
		Body:       buildBody(rec),
		FixPath:    fixPath,
		FixContent: fixContent,
	}
	if result.TestPlan != "" {
		req.TestPath = testPathFor(fixPath)
		req.TestContent = result.TestPlan
	}
	return req
}

// RefreshStatus reads the live PR state from the code host, serving from the
// short-lived cache when possible. Pure read, no lifecycle writes.
func (t *Tracker) RefreshStatus(ctx context.Context, analysisID uuid.UUID) (*models.PRStatus, error) {
	rec, err := t.store.GetAnalysis(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if rec.PRNumber == 0 {
		return nil, fmt.Errorf("%w: pr_state is %s", ErrNoPR, rec.PRState)
	}

	key := cache.PRStatusKey(rec.PRNumber)
	if raw, ok, err := t.cache.Get(ctx, key); err == nil && ok {
		var status models.PRStatus
		if jsonErr := json.Unmarshal(raw, &status); jsonErr == nil {
			return &status, nil
		}
	}

	return t.fetchStatus(ctx, rec.PRNumber)
}

func (t *Tracker) fetchStatus(ctx context.Context, number int) (*models.PRStatus, error) {
	status, err := t.host.PRStatus(ctx, number)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(status); err == nil {
		if err := t.cache.Set(ctx, cache.PRStatusKey(number), raw, statusCacheTTL); err != nil {
			t.logger.Warn("failed to cache pr status", "pr", number, "error", err)
		}
	}
	return status, nil
}

// WaitForResolution polls the code host at a fixed interval until the PR is
// merged or closed. The cache is bypassed so every attempt observes fresh
// state. Returns ErrPollTimeout when the attempt budget runs out.
func (t *Tracker) WaitForResolution(ctx context.Context, analysisID uuid.UUID) (*models.PRStatus, error) {
	rec, err := t.store.GetAnalysis(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if rec.PRNumber == 0 {
		return nil, fmt.Errorf("%w: pr_state is %s", ErrNoPR, rec.PRState)
	}

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < t.cfg.PollMaxAttempts; attempt++ {
		status, err := t.fetchStatus(ctx, rec.PRNumber)
		if err != nil {
			t.logger.Warn("pr status poll failed", "pr", rec.PRNumber, "attempt", attempt+1, "error", err)
		} else if status.Merged || status.Closed {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return nil, fmt.Errorf("%w: pr #%d after %d attempts", ErrPollTimeout, rec.PRNumber, t.cfg.PollMaxAttempts)
}

func buildBody(rec *models.AnalysisRecord) string {
	result := rec.Result
	var b strings.Builder

	b.WriteString("## Root cause\n\n")
	b.WriteString(result.RootCause)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Confidence: %.2f\n\n", result.Confidence)
	if result.PatternsUsed > 0 {
		fmt.Fprintf(&b, "Informed by %d previously learned fix pattern(s).\n\n", result.PatternsUsed)
	}
	if result.TestPlan != "" {
		b.WriteString("## Test plan\n\n")
		b.WriteString(result.TestPlan)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Generated from analysis `%s` of issue `%s`.\n", rec.ID, rec.IssueID)

	return b.String()
}

// testPathFor places the generated tests next to the fix for Go sources and
// under tests/ otherwise.
func testPathFor(fixPath string) string {
	dir, file := path.Split(fixPath)
	ext := path.Ext(file)
	base := strings.TrimSuffix(file, ext)
	if ext == ".go" {
		return dir + base + "_test.go"
	}
	return "tests/test_" + base + ext
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
