package models

import "time"

// Queue entry lifecycle statuses.
const (
	QueueStatusPending   = "pending"
	QueueStatusAnalyzing = "analyzing"
	QueueStatusDone      = "done"
	QueueStatusFailed    = "failed"
	QueueStatusSkipped   = "skipped"
)

// Priority buckets derived from the numeric priority score.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// QueueEntry is an issue admitted to the analysis queue. The issue id is the
// primary key; repeated scans upsert in place and refresh the snapshot fields
// without resetting lifecycle status.
type QueueEntry struct {
	IssueID     string    `json:"issue_id"`
	Title       string    `json:"title"`
	ErrorType   string    `json:"error_type"`
	Culprit     string    `json:"culprit"`
	Fingerprint string    `json:"fingerprint"`
	Score       float64   `json:"score"`
	Priority    string    `json:"priority"`
	Count       int       `json:"count"`
	UserCount   int       `json:"user_count"`
	LastSeen    time.Time `json:"last_seen"`
	Status      string    `json:"status"`
	AnalysisID  string    `json:"analysis_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
