// Package orchestrator discovers issues from the tracker, admits them to the
// analysis queue, and supervises concurrently running analysis units under a
// configurable cap.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbarthwal/triagent/internal/analysis"
	"github.com/nikhilbarthwal/triagent/internal/cache"
	"github.com/nikhilbarthwal/triagent/internal/sentry"
	"github.com/nikhilbarthwal/triagent/internal/store"
	"github.com/nikhilbarthwal/triagent/internal/triage"
	"github.com/nikhilbarthwal/triagent/pkg/issuequery"
	"github.com/nikhilbarthwal/triagent/pkg/models"
)

// ErrDuplicateDispatch is returned when a dispatch targets a fingerprint that
// already has a non-terminal analysis.
var ErrDuplicateDispatch = errors.New("analysis already dispatched for target")

const scanPageLimit = 100

// Config carries the tuning the orchestrator needs from the environment.
type Config struct {
	Project       string
	Environment   string
	MinScore      float64
	MaxConcurrent int
	AgentTimeout  time.Duration
}

// Orchestrator is the scan/queue/dispatch coordinator.
type Orchestrator struct {
	store    store.Store
	cache    cache.Cache
	tracker  sentry.Client
	broker   *analysis.Broker
	gatherer analysis.EvidenceGatherer
	patterns analysis.PatternRetriever
	provider models.FixProvider
	cfg      Config
	logger   *slog.Logger

	sem chan struct{}

	mu       sync.Mutex
	units    map[uuid.UUID]*analysis.Unit
	byTarget map[string]uuid.UUID
}

func New(st store.Store, ca cache.Cache, tracker sentry.Client, broker *analysis.Broker,
	gatherer analysis.EvidenceGatherer, patterns analysis.PatternRetriever,
	provider models.FixProvider, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Orchestrator{
		store:    st,
		cache:    ca,
		tracker:  tracker,
		broker:   broker,
		gatherer: gatherer,
		patterns: patterns,
		provider: provider,
		cfg:      cfg,
		logger:   logger,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		units:    make(map[uuid.UUID]*analysis.Unit),
		byTarget: make(map[string]uuid.UUID),
	}
}

// ScanParams controls one discovery scan.
type ScanParams struct {
	Timeframe      string
	MinOccurrences int
	AutoAnalyze    bool
}

// GroupSummary describes one fingerprint group found by a scan.
type GroupSummary struct {
	Fingerprint string     `json:"fingerprint"`
	ErrorType   string     `json:"error_type"`
	Size        int        `json:"size"`
	TopIssueID  string     `json:"top_issue_id"`
	AnalysisID  *uuid.UUID `json:"analysis_id,omitempty"`
	Priority    string     `json:"priority"`
}

// ScanResult reports what a scan found and queued.
type ScanResult struct {
	TotalFound int            `json:"total_found"`
	Queued     int            `json:"queued"`
	Groups     []GroupSummary `json:"groups"`
}

// Scan queries the tracker for unresolved issues in the timeframe, scores
// them, upserts qualifying issues into the queue (idempotent by issue id),
// and optionally dispatches one analysis unit per fingerprint group.
func (o *Orchestrator) Scan(ctx context.Context, params ScanParams) (*ScanResult, error) {
	window := params.Timeframe
	if window == "" {
		window = issuequery.Window24h
	}

	qb := issuequery.QueryBuilder{}
	query := qb.BuildScanQuery(issuequery.ScanParams{
		Project:     o.cfg.Project,
		Environment: o.cfg.Environment,
	})

	now := time.Now().UTC()
	issues, err := o.tracker.ListIssues(ctx, sentry.IssuesRequest{
		Query: query,
		Start: now.Add(-windowDuration(window)),
		End:   now,
		Limit: scanPageLimit,
		Sort:  "freq",
	})
	if err != nil {
		return nil, fmt.Errorf("scanning tracker: %w", err)
	}

	admitted := make([]models.Issue, 0, len(issues))
	queued := 0
	for _, issue := range issues {
		if issue.Count < params.MinOccurrences {
			continue
		}
		score := triage.PriorityScore(issue, now)
		if score < o.cfg.MinScore {
			continue
		}
		if issue.ErrorType == "" {
			issue.ErrorType = triage.ExtractErrorType(issue.Title)
		}

		created, err := o.store.UpsertQueueEntry(ctx, &models.QueueEntry{
			IssueID:     issue.ID,
			Title:       issue.Title,
			ErrorType:   issue.ErrorType,
			Culprit:     issue.Culprit,
			Fingerprint: triage.Fingerprint(issue.Title),
			Score:       score,
			Priority:    triage.PriorityBucket(score),
			Count:       issue.Count,
			UserCount:   issue.UserCount,
			LastSeen:    issue.LastSeen,
			Status:      models.QueueStatusPending,
		})
		if err != nil {
			return nil, fmt.Errorf("queueing issue %s: %w", issue.ID, err)
		}
		if created {
			queued++
		}
		admitted = append(admitted, issue)
	}

	groups := triage.Group(admitted, now)
	summaries := make([]GroupSummary, 0, len(groups))
	for _, group := range groups {
		top := group.Issues[0]
		summary := GroupSummary{
			Fingerprint: group.Key,
			ErrorType:   top.ErrorType,
			Size:        len(group.Issues),
			TopIssueID:  top.ID,
			Priority:    triage.PriorityBucket(triage.PriorityScore(top, now)),
		}

		if params.AutoAnalyze {
			id, err := o.Dispatch(ctx, group)
			switch {
			case err == nil:
				summary.AnalysisID = &id
			case errors.Is(err, ErrDuplicateDispatch):
				o.logger.Info("group already under analysis", "fingerprint", group.Key)
			default:
				o.logger.Error("dispatching group failed", "fingerprint", group.Key, "error", err)
			}
		}
		summaries = append(summaries, summary)
	}

	o.logger.Info("scan complete",
		"total_found", len(issues), "admitted", len(admitted), "queued", queued, "groups", len(groups))

	return &ScanResult{TotalFound: len(issues), Queued: queued, Groups: summaries}, nil
}

// Dispatch creates a pending analysis record for the group and schedules its
// unit without blocking. Excess dispatches beyond the concurrency cap wait
// their turn in dispatch order.
func (o *Orchestrator) Dispatch(ctx context.Context, group models.IssueGroup) (uuid.UUID, error) {
	if len(group.Issues) == 0 {
		return uuid.Nil, fmt.Errorf("empty group")
	}
	top := group.Issues[0]

	o.mu.Lock()
	if existing, ok := o.byTarget[group.Key]; ok {
		o.mu.Unlock()
		return existing, fmt.Errorf("%w: %s", ErrDuplicateDispatch, group.Key)
	}
	// Reserve the fingerprint before releasing the lock so concurrent
	// dispatches for the same group lose deterministically.
	id := uuid.New()
	o.byTarget[group.Key] = id
	o.mu.Unlock()

	rec := &models.AnalysisRecord{
		ID:          id,
		IssueID:     top.ID,
		Fingerprint: group.Key,
		GroupSize:   len(group.Issues),
		State:       models.AnalysisStatePending,
		PRState:     models.PRStateNone,
	}
	if err := o.store.CreateAnalysis(ctx, rec); err != nil {
		o.release(id, group.Key)
		return uuid.Nil, fmt.Errorf("creating analysis record: %w", err)
	}

	for _, issue := range group.Issues {
		if err := o.store.UpdateQueueStatus(ctx, issue.ID, models.QueueStatusAnalyzing,
			store.WithAnalysisID(id)); err != nil && !errors.Is(err, store.ErrNotFound) {
			o.logger.Warn("marking queue entry analyzing failed", "issue_id", issue.ID, "error", err)
		}
	}

	unit := analysis.NewUnit(id, top, group.Issues[1:], o.store, o.cache, o.broker,
		o.gatherer, o.patterns, o.provider, o.cfg.AgentTimeout, o.logger)

	o.mu.Lock()
	o.units[id] = unit
	o.mu.Unlock()

	go o.run(unit, group.Key)

	o.logger.Info("analysis dispatched",
		"analysis_id", id, "fingerprint", group.Key, "group_size", len(group.Issues))
	return id, nil
}

// DispatchIssue dispatches a single queued issue as a one-member group.
func (o *Orchestrator) DispatchIssue(ctx context.Context, issueID string) (uuid.UUID, error) {
	entry, err := o.store.GetQueueEntry(ctx, issueID)
	if err != nil {
		return uuid.Nil, err
	}
	issue := models.Issue{
		ID:        entry.IssueID,
		Title:     entry.Title,
		ErrorType: entry.ErrorType,
		Culprit:   entry.Culprit,
		Count:     entry.Count,
		UserCount: entry.UserCount,
		LastSeen:  entry.LastSeen,
	}
	return o.Dispatch(ctx, models.IssueGroup{Key: entry.Fingerprint, Issues: []models.Issue{issue}})
}

// Cancel requests cooperative cancellation of an analysis. Returns false when
// the analysis is already terminal.
func (o *Orchestrator) Cancel(ctx context.Context, analysisID uuid.UUID) (bool, error) {
	o.mu.Lock()
	unit, ok := o.units[analysisID]
	o.mu.Unlock()
	if ok {
		return unit.Cancel(), nil
	}

	// No live unit (e.g. record from a previous process). Resolve against
	// the store directly.
	rec, err := o.store.GetAnalysis(ctx, analysisID)
	if err != nil {
		return false, err
	}
	if rec.Terminal() {
		return false, nil
	}
	err = o.store.TransitionAnalysis(ctx, analysisID,
		[]string{models.AnalysisStatePending, models.AnalysisStateRunning}, models.AnalysisStateCancelled,
		store.WithFinishedAt(time.Now().UTC()))
	if errors.Is(err, store.ErrAlreadyTerminal) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Shutdown requests cancellation of every live unit. Units wind down
// cooperatively and record a cancelled event before exiting.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	units := make([]*analysis.Unit, 0, len(o.units))
	for _, u := range o.units {
		units = append(units, u)
	}
	o.mu.Unlock()

	for _, u := range units {
		u.Cancel()
	}
}

// Running reports the number of units currently scheduled or running.
func (o *Orchestrator) Running() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.units)
}

func (o *Orchestrator) run(unit *analysis.Unit, fingerprint string) {
	o.sem <- struct{}{}
	defer func() { <-o.sem }()
	defer o.release(unit.ID(), fingerprint)

	// Units obtain their own lifetime context; an HTTP request ending must
	// not abort a dispatched analysis.
	unit.Run(context.Background())
}

func (o *Orchestrator) release(id uuid.UUID, fingerprint string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.units, id)
	if o.byTarget[fingerprint] == id {
		delete(o.byTarget, fingerprint)
	}
}

func windowDuration(window string) time.Duration {
	switch window {
	case issuequery.Window7d:
		return 7 * 24 * time.Hour
	case issuequery.Window30d:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}
