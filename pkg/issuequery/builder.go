// Package issuequery constructs search query strings for the issue tracker
// API. All methods are pure functions with no side effects.
package issuequery

import (
	"fmt"
	"strings"
	"time"
)

// Tracker timeframe windows accepted by the issues endpoint.
const (
	Window24h = "24h"
	Window7d  = "7d"
	Window30d = "30d"
)

// QueryBuilder constructs safe tracker query strings.
// Zero value is ready to use.
type QueryBuilder struct{}

// ScanParams defines inputs for unresolved-issue scan queries.
type ScanParams struct {
	Project     string
	Environment string
	ErrorTypes  []string
}

// HistoryParams defines inputs for resolved-issue history queries.
type HistoryParams struct {
	Project     string
	Environment string
	Since       time.Time
}

// BuildScanQuery returns a tracker query selecting unresolved issues.
func (b QueryBuilder) BuildScanQuery(p ScanParams) string {
	parts := []string{"is:unresolved"}

	if p.Project != "" {
		parts = append(parts, fmt.Sprintf("project:%s", p.Project))
	}
	if p.Environment != "" {
		parts = append(parts, fmt.Sprintf("environment:%s", p.Environment))
	}
	if tf := b.buildTypeFilter(p.ErrorTypes); tf != "" {
		parts = append(parts, tf)
	}

	return strings.Join(parts, " ")
}

// BuildHistoryQuery returns a tracker query selecting resolved issues for
// historical pattern bootstrap.
func (b QueryBuilder) BuildHistoryQuery(p HistoryParams) string {
	parts := []string{"is:resolved"}

	if p.Project != "" {
		parts = append(parts, fmt.Sprintf("project:%s", p.Project))
	}
	if p.Environment != "" {
		parts = append(parts, fmt.Sprintf("environment:%s", p.Environment))
	}
	if !p.Since.IsZero() {
		parts = append(parts, fmt.Sprintf("lastSeen:>%s", p.Since.UTC().Format("2006-01-02")))
	}

	return strings.Join(parts, " ")
}

// TimeframeWindow converts a lookback duration to the nearest tracker
// window, rounding up.
func TimeframeWindow(lookback time.Duration) string {
	switch {
	case lookback <= 24*time.Hour:
		return Window24h
	case lookback <= 7*24*time.Hour:
		return Window7d
	default:
		return Window30d
	}
}

func (b QueryBuilder) buildTypeFilter(types []string) string {
	if len(types) == 0 {
		return ""
	}
	quoted := make([]string, len(types))
	for i, t := range types {
		quoted[i] = fmt.Sprintf("error.type:%q", t)
	}
	return strings.Join(quoted, " ")
}
