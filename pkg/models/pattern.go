package models

import (
	"time"

	"github.com/google/uuid"
)

// Pattern kinds. A fix pattern records an approach that resolved an issue;
// an antipattern records one that was rejected or failed.
const (
	PatternKindFix  = "fix"
	PatternKindAnti = "antipattern"
)

// Pattern sources.
const (
	PatternSourceLive       = "live"
	PatternSourceHistorical = "historical"
)

// Pattern is one learned fix (or rejected approach) in the learning store.
type Pattern struct {
	ID          uuid.UUID        `json:"id"`
	Kind        string           `json:"kind"`
	Source      string           `json:"source"`
	Signature   PatternSignature `json:"signature"`
	FixSummary  string           `json:"fix_summary"`
	Confidence  float64          `json:"confidence"`
	PRNumber    int              `json:"pr_number,omitempty"`
	AnalysisID  *uuid.UUID       `json:"analysis_id,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// PatternSignature is the matchable portion of a pattern, used for
// similarity retrieval against new issues.
type PatternSignature struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
	Location  string `json:"location,omitempty"`
}

// PatternMatch is a retrieved pattern with its similarity to the query.
type PatternMatch struct {
	Pattern    Pattern `json:"pattern"`
	Similarity float64 `json:"similarity"`
}

// LearningStats summarizes the learning store contents.
type LearningStats struct {
	TotalPatterns          int `json:"total_patterns"`
	TotalAntipatterns      int `json:"total_antipatterns"`
	HighConfidencePatterns int `json:"high_confidence_patterns"`
	TotalEntries           int `json:"total_entries"`
}

// Bootstrap outcomes returned by the historical bootstrap operation.
const (
	BootstrapStatusCompleted = "completed"
	BootstrapStatusSkipped   = "skipped"
)

// BootstrapState records when historical bootstrap last ran so repeat runs
// inside the cooldown window can be skipped.
type BootstrapState struct {
	LastRunAt       time.Time `json:"last_run_at"`
	PatternsCreated int       `json:"patterns_created"`
}
