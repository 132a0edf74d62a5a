// Package learning maintains the store of fix patterns mined from resolved
// pull requests and historical issues, and retrieves the most similar
// patterns for new analyses.
package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/nikhilbarthwal/triagent/internal/cache"
	"github.com/nikhilbarthwal/triagent/internal/config"
	"github.com/nikhilbarthwal/triagent/internal/sentry"
	"github.com/nikhilbarthwal/triagent/internal/store"
	"github.com/nikhilbarthwal/triagent/internal/triage"
	"github.com/nikhilbarthwal/triagent/pkg/issuequery"
	"github.com/nikhilbarthwal/triagent/pkg/models"
)

// ErrNoAnalysisForPR is returned when a PR outcome arrives for a PR no
// analysis record claims.
var ErrNoAnalysisForPR = errors.New("no analysis found for pr")

const (
	statsTTL = 30 * time.Second

	// Outcome patterns are near-certain: the fix was (or was not) accepted.
	liveConfidence = 0.9
	// Historical patterns come from proven production fixes.
	historicalConfidence = 0.95

	maxSummaryLen = 200
)

// Service is the learning store facade.
type Service struct {
	store   store.Store
	cache   cache.Cache
	tracker sentry.Client
	scorer  Scorer
	cfg     config.LearningConfig
	project string
	env     string
	logger  *slog.Logger
}

func NewService(st store.Store, ca cache.Cache, tracker sentry.Client, cfg config.LearningConfig, project, env string, logger *slog.Logger) *Service {
	return &Service{
		store:   st,
		cache:   ca,
		tracker: tracker,
		scorer:  WeightedScorer{},
		cfg:     cfg,
		project: project,
		env:     env,
		logger:  logger,
	}
}

// RecordOutcome converts a resolved PR into a pattern: merged PRs become fix
// patterns, PRs closed without merging become antipatterns. Patterns are
// append-only; concurrent resolutions for different PRs never conflict.
func (s *Service) RecordOutcome(ctx context.Context, prNumber int, merged bool) (*models.Pattern, error) {
	record, err := s.store.GetAnalysisByPRNumber(ctx, prNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: #%d", ErrNoAnalysisForPR, prNumber)
		}
		return nil, fmt.Errorf("looking up analysis for pr #%d: %w", prNumber, err)
	}

	sig := s.signatureFor(ctx, record)

	kind := models.PatternKindFix
	if !merged {
		kind = models.PatternKindAnti
	}

	summary := ""
	if record.Result != nil {
		summary = truncate(record.Result.RootCause, maxSummaryLen)
	}

	pattern := &models.Pattern{
		ID:         uuid.New(),
		Kind:       kind,
		Source:     models.PatternSourceLive,
		Signature:  sig,
		FixSummary: summary,
		Confidence: liveConfidence,
		PRNumber:   prNumber,
		AnalysisID: &record.ID,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.store.CreatePattern(ctx, pattern); err != nil {
		return nil, fmt.Errorf("creating pattern: %w", err)
	}

	s.invalidateStats(ctx)
	s.logger.Info("recorded pr outcome",
		"pr_number", prNumber, "merged", merged, "kind", kind, "error_type", sig.ErrorType)

	return pattern, nil
}

// Retrieve returns the stored patterns most similar to the given signature,
// best match first with recency breaking ties. An empty store or no match
// above the similarity threshold yields an empty slice, never an error.
func (s *Service) Retrieve(ctx context.Context, sig models.PatternSignature, limit int) ([]models.PatternMatch, error) {
	if limit <= 0 {
		limit = s.cfg.MaxMatches
	}

	patterns, err := s.store.ListPatterns(ctx, store.PatternFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing patterns: %w", err)
	}

	matches := make([]models.PatternMatch, 0, len(patterns))
	for _, p := range patterns {
		similarity := s.scorer.Score(sig, p.Signature)
		if similarity < s.cfg.SimilarityThreshold {
			continue
		}
		matches = append(matches, models.PatternMatch{Pattern: *p, Similarity: similarity})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Pattern.CreatedAt.After(matches[j].Pattern.CreatedAt)
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Stats returns aggregate counts, cached briefly since they are informational.
func (s *Service) Stats(ctx context.Context) (*models.LearningStats, error) {
	if raw, ok, err := s.cache.Get(ctx, cache.LearningStatsKey()); err == nil && ok {
		var stats models.LearningStats
		if err := json.Unmarshal(raw, &stats); err == nil {
			return &stats, nil
		}
	}

	stats, err := s.store.PatternStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("computing pattern stats: %w", err)
	}

	if raw, err := json.Marshal(stats); err == nil {
		_ = s.cache.Set(ctx, cache.LearningStatsKey(), raw, statsTTL)
	}
	return stats, nil
}

// BootstrapParams configures a historical backfill run.
type BootstrapParams struct {
	Projects       []string
	MaxPerProject  int
	MinOccurrences int
	MonthsBack     int
}

// BootstrapResult reports what a bootstrap run did.
type BootstrapResult struct {
	Status          string    `json:"status"`
	PatternsCreated int       `json:"patterns_created"`
	Projects        []string  `json:"projects,omitempty"`
	LastRunAt       time.Time `json:"last_run_at,omitempty"`
}

// Bootstrap mines historically resolved issues into high-confidence patterns
// so retrieval is useful before the live learning loop has run. Re-running
// inside the cooldown window is a no-op reported as skipped.
func (s *Service) Bootstrap(ctx context.Context, params BootstrapParams) (*BootstrapResult, error) {
	state, err := s.store.GetBootstrapState(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("reading bootstrap state: %w", err)
	}
	if state != nil && !state.LastRunAt.IsZero() && time.Since(state.LastRunAt) < s.cfg.BootstrapCooldown {
		s.logger.Info("bootstrap skipped, inside cooldown", "last_run_at", state.LastRunAt)
		return &BootstrapResult{
			Status:          models.BootstrapStatusSkipped,
			PatternsCreated: state.PatternsCreated,
			LastRunAt:       state.LastRunAt,
		}, nil
	}

	projects := params.Projects
	if len(projects) == 0 {
		projects = []string{s.project}
	}
	maxPerProject := params.MaxPerProject
	if maxPerProject <= 0 {
		maxPerProject = 20
	}
	lookback := s.cfg.BootstrapLookback
	if params.MonthsBack > 0 {
		lookback = time.Duration(params.MonthsBack) * 30 * 24 * time.Hour
	}

	since := time.Now().UTC().Add(-lookback)
	created := 0

	qb := issuequery.QueryBuilder{}
	for _, project := range projects {
		query := qb.BuildHistoryQuery(issuequery.HistoryParams{
			Project:     project,
			Environment: s.env,
			Since:       since,
		})

		issues, err := s.tracker.ListIssues(ctx, sentry.IssuesRequest{
			Query: query,
			Limit: maxPerProject,
			Sort:  "freq",
		})
		if err != nil {
			s.logger.Warn("bootstrap project query failed", "project", project, "error", err)
			continue
		}

		for _, issue := range issues {
			if issue.Count < params.MinOccurrences {
				continue
			}
			if err := s.store.CreatePattern(ctx, s.historicalPattern(issue)); err != nil {
				s.logger.Warn("storing historical pattern failed", "issue_id", issue.ID, "error", err)
				continue
			}
			created++
		}
	}

	now := time.Now().UTC()
	if err := s.store.SetBootstrapState(ctx, &models.BootstrapState{LastRunAt: now, PatternsCreated: created}); err != nil {
		return nil, fmt.Errorf("recording bootstrap state: %w", err)
	}

	s.invalidateStats(ctx)
	s.logger.Info("bootstrap completed", "patterns_created", created, "projects", len(projects))

	return &BootstrapResult{
		Status:          models.BootstrapStatusCompleted,
		PatternsCreated: created,
		Projects:        projects,
		LastRunAt:       now,
	}, nil
}

func (s *Service) historicalPattern(issue models.Issue) *models.Pattern {
	errorType := issue.ErrorType
	if errorType == "" {
		errorType = triage.ExtractErrorType(issue.Title)
	}
	return &models.Pattern{
		ID:     uuid.New(),
		Kind:   models.PatternKindFix,
		Source: models.PatternSourceHistorical,
		Signature: models.PatternSignature{
			ErrorType: errorType,
			Message:   triage.NormalizeTitle(issue.Title),
			Location:  issue.Culprit,
		},
		FixSummary: truncate(fmt.Sprintf("Resolved in production: %s", issue.Title), maxSummaryLen),
		Confidence: historicalConfidence,
		CreatedAt:  time.Now().UTC(),
	}
}

// signatureFor reconstructs the issue signature behind an analysis. The queue
// entry may have been removed since dispatch; in that case only the analysis
// record's own fields are available.
func (s *Service) signatureFor(ctx context.Context, record *models.AnalysisRecord) models.PatternSignature {
	entry, err := s.store.GetQueueEntry(ctx, record.IssueID)
	if err != nil {
		s.logger.Warn("queue entry missing for analysis, recording sparse signature",
			"issue_id", record.IssueID, "error", err)
		return models.PatternSignature{}
	}
	return models.PatternSignature{
		ErrorType: entry.ErrorType,
		Message:   triage.NormalizeTitle(entry.Title),
		Location:  entry.Culprit,
	}
}

func (s *Service) invalidateStats(ctx context.Context) {
	if err := s.cache.Delete(ctx, cache.LearningStatsKey()); err != nil {
		s.logger.Warn("invalidating stats cache failed", "error", err)
	}
}

// truncate shortens s to maxLen bytes without splitting UTF-8 runes.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}
