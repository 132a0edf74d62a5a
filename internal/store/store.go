package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbarthwal/triagent/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrAlreadyTerminal is returned when a state transition targets an analysis
// that has already reached a terminal state.
var ErrAlreadyTerminal = errors.New("analysis already in terminal state")

// ErrInvalidTransition is returned when the current state is not one of the
// allowed source states for a transition.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrEventLogSealed is returned when an event is appended after a terminal
// event has sealed the log.
var ErrEventLogSealed = errors.New("event log sealed")

// ErrPRInProgress is returned when PR creation is requested while a creation
// attempt is already underway or a PR already exists.
var ErrPRInProgress = errors.New("pr creation already in progress or complete")

// Store is the data access interface. All persistence goes through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	// UpsertQueueEntry inserts or refreshes a queue entry keyed by issue id.
	// On conflict the issue snapshot and score are refreshed but lifecycle
	// status is preserved. Returns true when a new row was created.
	UpsertQueueEntry(ctx context.Context, entry *models.QueueEntry) (bool, error)
	GetQueueEntry(ctx context.Context, issueID string) (*models.QueueEntry, error)
	ListQueue(ctx context.Context, filter QueueFilter) ([]*models.QueueEntry, int, error)
	UpdateQueueStatus(ctx context.Context, issueID string, status string, opts ...QueueUpdateOption) error
	RemoveQueueEntry(ctx context.Context, issueID string) error

	CreateAnalysis(ctx context.Context, rec *models.AnalysisRecord) error
	GetAnalysis(ctx context.Context, id uuid.UUID) (*models.AnalysisRecord, error)
	GetAnalysisByPRNumber(ctx context.Context, prNumber int) (*models.AnalysisRecord, error)
	ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]*models.AnalysisRecord, int, error)

	// TransitionAnalysis moves an analysis from one of the allowed source
	// states to the target state. Returns ErrAlreadyTerminal when the record
	// is already terminal, ErrInvalidTransition otherwise on a bad source.
	TransitionAnalysis(ctx context.Context, id uuid.UUID, from []string, to string, opts ...AnalysisUpdateOption) error

	// AppendEvent assigns the next sequence number and appends to the
	// analysis event log. Appending after a terminal event returns
	// ErrEventLogSealed.
	AppendEvent(ctx context.Context, event *models.AnalysisEvent) error
	ListEvents(ctx context.Context, analysisID uuid.UUID, afterSeq int64) ([]*models.AnalysisEvent, error)

	// BeginPRCreation atomically claims the PR slot for an analysis,
	// moving pr_state from none to creating. Any other current pr_state
	// returns ErrPRInProgress.
	BeginPRCreation(ctx context.Context, analysisID uuid.UUID) error
	UpdatePR(ctx context.Context, analysisID uuid.UUID, state string, opts ...PRUpdateOption) error

	CreatePattern(ctx context.Context, p *models.Pattern) error
	ListPatterns(ctx context.Context, filter PatternFilter) ([]*models.Pattern, error)
	PatternStats(ctx context.Context) (*models.LearningStats, error)

	GetBootstrapState(ctx context.Context) (*models.BootstrapState, error)
	SetBootstrapState(ctx context.Context, state *models.BootstrapState) error
}

type QueueFilter struct {
	Status   string
	Priority string
	Page     int
	Limit    int
}

type AnalysisFilter struct {
	State   string
	IssueID string
	Page    int
	Limit   int
}

type PatternFilter struct {
	Kind      string
	ErrorType string
	Limit     int
}

type queueUpdateParams struct {
	AnalysisID *uuid.UUID
}

type QueueUpdateOption func(*queueUpdateParams)

func WithAnalysisID(id uuid.UUID) QueueUpdateOption {
	return func(p *queueUpdateParams) {
		p.AnalysisID = &id
	}
}

type analysisUpdateParams struct {
	Stage        *string
	Result       *models.AnalysisResult
	ErrorMessage *string
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

type AnalysisUpdateOption func(*analysisUpdateParams)

func WithStage(stage string) AnalysisUpdateOption {
	return func(p *analysisUpdateParams) {
		p.Stage = &stage
	}
}

func WithResult(result *models.AnalysisResult) AnalysisUpdateOption {
	return func(p *analysisUpdateParams) {
		p.Result = result
	}
}

func WithErrorMessage(msg string) AnalysisUpdateOption {
	return func(p *analysisUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithStartedAt(at time.Time) AnalysisUpdateOption {
	return func(p *analysisUpdateParams) {
		p.StartedAt = &at
	}
}

func WithFinishedAt(at time.Time) AnalysisUpdateOption {
	return func(p *analysisUpdateParams) {
		p.FinishedAt = &at
	}
}

type prUpdateParams struct {
	Number *int
	URL    *string
	Branch *string
}

type PRUpdateOption func(*prUpdateParams)

func WithPRNumber(n int) PRUpdateOption {
	return func(p *prUpdateParams) {
		p.Number = &n
	}
}

func WithPRURL(url string) PRUpdateOption {
	return func(p *prUpdateParams) {
		p.URL = &url
	}
}

func WithPRBranch(branch string) PRUpdateOption {
	return func(p *prUpdateParams) {
		p.Branch = &branch
	}
}
