// Package models contains shared data models used across the Triagent codebase.
package models

import "time"

// Issue is a deduplicated error report from the monitoring backend,
// identified by a tracker-scoped stable id. Immutable once fetched;
// queue lifecycle state lives on QueueEntry.
type Issue struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ErrorType string    `json:"error_type"`
	Culprit   string    `json:"culprit"`
	Count     int       `json:"count"`
	UserCount int       `json:"user_count"`
	LastSeen  time.Time `json:"last_seen"`
	Permalink string    `json:"permalink,omitempty"`
}

// IssueGroup is a set of issues sharing a fingerprint key. Groups exist for
// the duration of one scan and are dispatched as a single analysis so that
// members share agent context.
type IssueGroup struct {
	Key    string  `json:"key"`
	Issues []Issue `json:"issues"`
}
