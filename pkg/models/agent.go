package models

import "context"

// FixProvider is the interface every agent backend implements. Callers
// depend on this, never on a concrete backend.
type FixProvider interface {
	// Analyze performs root cause analysis for one issue group.
	Analyze(ctx context.Context, req FixRequest) (AnalysisResult, error)
	// Name returns the provider identifier (e.g., "anthropic", "openai").
	Name() string
}

// FixRequest is the input to an agent analysis operation.
type FixRequest struct {
	Issue    Issue
	Group    []Issue        // Remaining group members sharing the fingerprint
	Evidence EvidenceBundle // Context gathered before the agent runs
	Patterns []PatternMatch // Similar past fixes, best match first
}
