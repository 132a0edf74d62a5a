package models

import (
	"time"

	"github.com/google/uuid"
)

// Analysis states. Running analyses may only move to a terminal state once;
// terminal states never transition again.
const (
	AnalysisStatePending   = "pending"
	AnalysisStateRunning   = "running"
	AnalysisStateCompleted = "completed"
	AnalysisStateFailed    = "failed"
	AnalysisStateCancelled = "cancelled"
)

// Event types emitted during an analysis run. Result, error and cancelled
// events are terminal: appending one seals the event log.
const (
	EventTypeStage     = "stage"
	EventTypeProgress  = "progress"
	EventTypeResult    = "result"
	EventTypeError     = "error"
	EventTypeCancelled = "cancelled"
)

// Analysis pipeline stages, in execution order.
const (
	StageGatheringEvidence  = "gathering_evidence"
	StageRetrievingPatterns = "retrieving_patterns"
	StageAnalyzingTrace     = "analyzing_trace"
	StageGeneratingFix      = "generating_fix"
	StageGeneratingTests    = "generating_tests"
	StageScoringConfidence  = "scoring_confidence"
)

// PR lifecycle states attached to an analysis record.
const (
	PRStateNone     = "none"
	PRStateCreating = "creating"
	PRStateCreated  = "created"
	PRStateFailed   = "failed"
	PRStateExists   = "exists"
)

// AnalysisRecord tracks one analysis unit from dispatch to terminal state,
// including the PR lifecycle that may follow a completed run.
type AnalysisRecord struct {
	ID          uuid.UUID       `json:"id"`
	IssueID     string          `json:"issue_id"`
	Fingerprint string          `json:"fingerprint"`
	GroupSize   int             `json:"group_size"`
	State       string          `json:"state"`
	Stage       string          `json:"stage,omitempty"`
	Result      *AnalysisResult `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	PRState     string          `json:"pr_state"`
	PRNumber    int             `json:"pr_number,omitempty"`
	PRURL       string          `json:"pr_url,omitempty"`
	PRBranch    string          `json:"pr_branch,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Terminal reports whether the record has reached a state that can never
// transition again.
func (r *AnalysisRecord) Terminal() bool {
	switch r.State {
	case AnalysisStateCompleted, AnalysisStateFailed, AnalysisStateCancelled:
		return true
	}
	return false
}

// AnalysisEvent is one entry in an analysis's append-only event log.
// Seq is assigned by the store and is strictly increasing per analysis.
type AnalysisEvent struct {
	AnalysisID uuid.UUID `json:"analysis_id"`
	Seq        int64     `json:"seq"`
	Type       string    `json:"type"`
	Stage      string    `json:"stage,omitempty"`
	Message    string    `json:"message,omitempty"`
	Payload    string    `json:"payload,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// TerminalEvent reports whether appending this event seals the log.
func (e *AnalysisEvent) TerminalEvent() bool {
	switch e.Type {
	case EventTypeResult, EventTypeError, EventTypeCancelled:
		return true
	}
	return false
}

// AnalysisResult is the structured outcome of a completed analysis.
type AnalysisResult struct {
	RootCause        string   `json:"root_cause"`
	ProposedFix      string   `json:"proposed_fix"`
	AffectedFiles    []string `json:"affected_files,omitempty"`
	TestPlan         string   `json:"test_plan,omitempty"`
	Confidence       float64  `json:"confidence"`
	CanAutoFix       bool     `json:"can_auto_fix"`
	RequiresApproval bool     `json:"requires_approval"`
	PatternsUsed     int      `json:"patterns_used"`
	Model            string   `json:"model,omitempty"`
	DurationSeconds  float64  `json:"analysis_time_seconds,omitempty"`
	Permalink        string   `json:"permalink,omitempty"`
}

// PREligible reports whether the result's confidence clears the bar for
// opening a fix pull request.
func (r *AnalysisResult) PREligible() bool {
	return r.Confidence >= 0.5
}
