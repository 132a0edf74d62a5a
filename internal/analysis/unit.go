// Package analysis runs one dispatched issue (or fingerprint group) through
// the fix-generation pipeline: a fixed sequence of stages with cooperative
// cancellation at stage boundaries and progress events streamed to observers.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbarthwal/triagent/internal/cache"
	"github.com/nikhilbarthwal/triagent/internal/store"
	"github.com/nikhilbarthwal/triagent/internal/triage"
	"github.com/nikhilbarthwal/triagent/pkg/models"
)

var ErrCancelled = errors.New("analysis cancelled")

const stateCacheTTL = 30 * time.Minute

// EvidenceGatherer collects the evidence bundle for one issue.
type EvidenceGatherer interface {
	Gather(ctx context.Context, issue models.Issue) models.EvidenceBundle
}

// PatternRetriever returns stored patterns similar to a signature.
type PatternRetriever interface {
	Retrieve(ctx context.Context, sig models.PatternSignature, limit int) ([]models.PatternMatch, error)
}

// Unit owns the lifecycle of a single analysis from running to terminal.
// Construct with NewUnit, drive with Run; Cancel may be called from any
// goroutine.
type Unit struct {
	id    uuid.UUID
	issue models.Issue
	group []models.Issue

	store    store.Store
	cache    cache.Cache
	broker   *Broker
	evidence EvidenceGatherer
	patterns PatternRetriever
	provider models.FixProvider
	timeout  time.Duration
	logger   *slog.Logger

	cancelled atomic.Bool
	terminal  atomic.Bool
	startedAt time.Time
}

func NewUnit(id uuid.UUID, issue models.Issue, group []models.Issue,
	st store.Store, ca cache.Cache, broker *Broker,
	gatherer EvidenceGatherer, retriever PatternRetriever,
	provider models.FixProvider, timeout time.Duration, logger *slog.Logger) *Unit {
	return &Unit{
		id:       id,
		issue:    issue,
		group:    group,
		store:    st,
		cache:    ca,
		broker:   broker,
		evidence: gatherer,
		patterns: retriever,
		provider: provider,
		timeout:  timeout,
		logger:   logger.With("analysis_id", id, "issue_id", issue.ID),
	}
}

func (u *Unit) ID() uuid.UUID { return u.id }

// Cancel requests cooperative cancellation. The unit observes the request at
// its next stage boundary; an in-flight collaborator call finishes or times
// out on its own terms. Returns false when the unit is already terminal.
func (u *Unit) Cancel() bool {
	if u.terminal.Load() {
		return false
	}
	u.cancelled.Store(true)
	return true
}

// Run executes the pipeline and always leaves the record in a terminal
// state. Stage order is fixed; no stage is skipped except on cancellation
// or failure.
func (u *Unit) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			u.logger.Error("panic in analysis run", "error", r)
			u.fail(ctx, fmt.Sprintf("panic: %v", r))
		}
	}()

	// Cancellation may arrive while the unit is still queued behind the
	// concurrency cap.
	if u.checkCancelled(ctx) {
		return
	}

	now := time.Now().UTC()
	u.startedAt = now
	err := u.store.TransitionAnalysis(ctx, u.id,
		[]string{models.AnalysisStatePending}, models.AnalysisStateRunning,
		store.WithStartedAt(now), store.WithStage(models.StageGatheringEvidence))
	if err != nil {
		u.logger.Error("starting analysis failed", "error", err)
		u.terminal.Store(true)
		return
	}
	u.setCachedState(ctx, models.AnalysisStateRunning)

	// Stage 1: evidence.
	if u.checkCancelled(ctx) {
		return
	}
	u.enterStage(ctx, models.StageGatheringEvidence, fmt.Sprintf("Gathering evidence for issue %s", u.issue.ID))
	bundle := u.evidence.Gather(ctx, u.issue)
	u.progress(ctx, models.StageGatheringEvidence,
		fmt.Sprintf("Evidence gathered (%d source failures)", len(bundle.Errors)))

	// Stage 2: pattern retrieval.
	if u.checkCancelled(ctx) {
		return
	}
	u.enterStage(ctx, models.StageRetrievingPatterns, "Retrieving similar fix patterns")
	sig := models.PatternSignature{
		ErrorType: u.issue.ErrorType,
		Message:   triage.NormalizeTitle(u.issue.Title),
		Location:  u.issue.Culprit,
	}
	matches, err := u.patterns.Retrieve(ctx, sig, 0)
	if err != nil {
		// Pattern absence must not block analysis; proceed without.
		u.logger.Warn("pattern retrieval failed", "error", err)
		matches = nil
	}
	u.progress(ctx, models.StageRetrievingPatterns, fmt.Sprintf("%d patterns retrieved", len(matches)))

	// Stage 3: agent invocation.
	if u.checkCancelled(ctx) {
		return
	}
	u.enterStage(ctx, models.StageAnalyzingTrace,
		fmt.Sprintf("Analyzing with %s provider", u.provider.Name()))

	agentCtx, cancel := context.WithTimeout(ctx, u.timeout)
	result, err := u.provider.Analyze(agentCtx, models.FixRequest{
		Issue:    u.issue,
		Group:    u.group,
		Evidence: bundle,
		Patterns: matches,
	})
	cancel()
	if err != nil {
		// A cancellation requested mid-call wins over the call's own error.
		if u.checkCancelled(ctx) {
			return
		}
		u.fail(ctx, err.Error())
		return
	}

	// Stage 4: fix generation. The provider returns the fix with the trace
	// analysis; surface it as its own stage so observers see the full
	// pipeline.
	if u.checkCancelled(ctx) {
		return
	}
	u.enterStage(ctx, models.StageGeneratingFix, "Generating root cause fix")
	if result.ProposedFix == "" {
		u.progress(ctx, models.StageGeneratingFix, "No fix produced")
	} else {
		u.progress(ctx, models.StageGeneratingFix, "Fix drafted")
	}

	// Stage 5: generated tests.
	if u.checkCancelled(ctx) {
		return
	}
	u.enterStage(ctx, models.StageGeneratingTests, "Collecting generated tests")
	if result.TestPlan == "" {
		u.progress(ctx, models.StageGeneratingTests, "No tests generated")
	} else {
		u.progress(ctx, models.StageGeneratingTests, "Test plan ready")
	}

	// Stage 6: confidence gating.
	if u.checkCancelled(ctx) {
		return
	}
	u.enterStage(ctx, models.StageScoringConfidence, "Scoring fix confidence")
	u.complete(ctx, &result)
}

func (u *Unit) complete(ctx context.Context, result *models.AnalysisResult) {
	// The outcome is decided before the terminal write starts; a Cancel
	// arriving during the write must not report success.
	u.terminal.Store(true)

	now := time.Now().UTC()
	if !u.startedAt.IsZero() {
		result.DurationSeconds = now.Sub(u.startedAt).Seconds()
	}
	if result.Permalink == "" {
		result.Permalink = u.issue.Permalink
	}
	err := u.store.TransitionAnalysis(ctx, u.id,
		[]string{models.AnalysisStateRunning}, models.AnalysisStateCompleted,
		store.WithResult(result), store.WithFinishedAt(now))
	if err != nil {
		u.logger.Error("completing analysis failed", "error", err)
		return
	}

	payload, _ := json.Marshal(result)
	u.emit(ctx, &models.AnalysisEvent{
		AnalysisID: u.id,
		Type:       models.EventTypeResult,
		Stage:      models.StageScoringConfidence,
		Message:    fmt.Sprintf("Analysis complete, confidence %.2f", result.Confidence),
		Payload:    string(payload),
	})

	u.setCachedState(ctx, models.AnalysisStateCompleted)
	u.updateQueue(ctx, models.QueueStatusDone)
	u.logger.Info("analysis completed",
		"confidence", result.Confidence, "pr_eligible", result.PREligible())
}

func (u *Unit) fail(ctx context.Context, message string) {
	u.terminal.Store(true)

	err := u.store.TransitionAnalysis(ctx, u.id,
		[]string{models.AnalysisStatePending, models.AnalysisStateRunning}, models.AnalysisStateFailed,
		store.WithErrorMessage(message), store.WithFinishedAt(time.Now().UTC()))
	if err != nil {
		u.logger.Error("failing analysis errored", "error", err)
		return
	}

	u.emit(ctx, &models.AnalysisEvent{
		AnalysisID: u.id,
		Type:       models.EventTypeError,
		Message:    message,
	})
	u.setCachedState(ctx, models.AnalysisStateFailed)
	u.updateQueue(ctx, models.QueueStatusFailed)
	u.logger.Warn("analysis failed", "error", message)
}

// checkCancelled observes a pending cancellation request (or caller context
// cancellation) at a stage boundary and finalizes the record if one arrived.
func (u *Unit) checkCancelled(ctx context.Context) bool {
	if !u.cancelled.Load() && ctx.Err() == nil {
		return false
	}

	err := u.store.TransitionAnalysis(ctx, u.id,
		[]string{models.AnalysisStatePending, models.AnalysisStateRunning}, models.AnalysisStateCancelled,
		store.WithFinishedAt(time.Now().UTC()))
	if err != nil {
		// A durably recorded completion beats a late cancellation.
		if !errors.Is(err, store.ErrAlreadyTerminal) {
			u.logger.Error("cancelling analysis errored", "error", err)
		}
		u.terminal.Store(true)
		return true
	}
	u.terminal.Store(true)

	u.emit(ctx, &models.AnalysisEvent{
		AnalysisID: u.id,
		Type:       models.EventTypeCancelled,
		Message:    "Analysis cancelled",
	})
	u.setCachedState(ctx, models.AnalysisStateCancelled)
	u.updateQueue(ctx, models.QueueStatusSkipped)
	u.logger.Info("analysis cancelled")
	return true
}

func (u *Unit) enterStage(ctx context.Context, stage, message string) {
	if err := u.store.TransitionAnalysis(ctx, u.id,
		[]string{models.AnalysisStateRunning}, models.AnalysisStateRunning,
		store.WithStage(stage)); err != nil {
		u.logger.Warn("updating stage failed", "stage", stage, "error", err)
	}
	u.emit(ctx, &models.AnalysisEvent{
		AnalysisID: u.id,
		Type:       models.EventTypeStage,
		Stage:      stage,
		Message:    message,
	})
}

func (u *Unit) progress(ctx context.Context, stage, message string) {
	u.emit(ctx, &models.AnalysisEvent{
		AnalysisID: u.id,
		Type:       models.EventTypeProgress,
		Stage:      stage,
		Message:    message,
	})
}

// emit appends to the durable event log first, then publishes to live
// observers. The store assigns the sequence number.
func (u *Unit) emit(ctx context.Context, event *models.AnalysisEvent) {
	if err := u.store.AppendEvent(ctx, event); err != nil {
		u.logger.Warn("appending event failed", "type", event.Type, "error", err)
		return
	}
	u.broker.Publish(event)
}

func (u *Unit) setCachedState(ctx context.Context, state string) {
	if err := u.cache.SetAnalysisState(ctx, u.id, state, stateCacheTTL); err != nil {
		u.logger.Warn("caching analysis state failed", "error", err)
	}
}

// updateQueue moves the lead issue and every grouped member to the same
// terminal queue status. Dispatch marked them all analyzing together.
func (u *Unit) updateQueue(ctx context.Context, status string) {
	ids := make([]string, 0, len(u.group)+1)
	ids = append(ids, u.issue.ID)
	for _, member := range u.group {
		ids = append(ids, member.ID)
	}
	for _, id := range ids {
		if err := u.store.UpdateQueueStatus(ctx, id, status); err != nil && !errors.Is(err, store.ErrNotFound) {
			u.logger.Warn("updating queue status failed", "issue_id", id, "status", status, "error", err)
		}
	}
}
