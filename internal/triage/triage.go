// Package triage scores and groups issues fetched from the monitoring
// backend. All functions are pure; lifecycle state lives in the store.
package triage

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nikhilbarthwal/triagent/pkg/models"
)

// Error type patterns, matched in order against the issue title.
var errorTypePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(KeyError)`),
	regexp.MustCompile(`(?i)(TypeError)`),
	regexp.MustCompile(`(?i)(ValueError)`),
	regexp.MustCompile(`(?i)(AttributeError)`),
	regexp.MustCompile(`(?i)(IndexError)`),
	regexp.MustCompile(`(?i)(NameError)`),
	regexp.MustCompile(`(?i)(RuntimeError)`),
	regexp.MustCompile(`(?i)(DatabaseError|IntegrityError|OperationalError)`),
	regexp.MustCompile(`(?i)(TimeoutError|Timeout)`),
	regexp.MustCompile(`(?i)(ConnectionError|Connection)`),
	regexp.MustCompile(`(?i)(ValidationError)`),
	regexp.MustCompile(`(?i)(HTTPException|ApiError)`),
}

// Normalization regexes compiled once at package init.
var (
	reHexAddr    = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	reUUID       = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	reQuoted     = regexp.MustCompile(`'[^']*'|"[^"]*"`)
	reNumber     = regexp.MustCompile(`\b\d+\b`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

// ExtractErrorType returns the canonical error type for an issue title.
// Timeout, database and connection variants collapse to a single canonical
// name; unmatched titles return "Other".
func ExtractErrorType(title string) string {
	for _, pattern := range errorTypePatterns {
		m := pattern.FindStringSubmatch(title)
		if m == nil {
			continue
		}
		matched := strings.ToLower(m[1])
		switch {
		case strings.Contains(matched, "timeout"):
			return "TimeoutError"
		case strings.Contains(matched, "database"), strings.Contains(matched, "integrity"), strings.Contains(matched, "operational"):
			return "DatabaseError"
		case strings.Contains(matched, "connection"):
			return "ConnectionError"
		default:
			return canonicalCase(m[1])
		}
	}
	return "Other"
}

// Fingerprint computes a stable SHA-256 fingerprint for an issue, combining
// the canonical error type with the normalized title.
func Fingerprint(title string) string {
	key := ExtractErrorType(title) + "|" + NormalizeTitle(title)
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", hash)
}

// NormalizeTitle strips volatile fragments (quoted values, addresses, ids,
// numbers) so that recurrences of the same defect map to one fingerprint.
func NormalizeTitle(title string) string {
	title = reHexAddr.ReplaceAllString(title, "0xADDR")
	title = reUUID.ReplaceAllString(title, "UUID")
	title = reQuoted.ReplaceAllString(title, "VALUE")
	title = reNumber.ReplaceAllString(title, "N")
	title = reWhitespace.ReplaceAllString(title, " ")
	title = strings.ToLower(title)
	title = strings.TrimSpace(title)
	title = truncateString(title, 500)
	return title
}

// PriorityScore computes the 0-100 priority score for an issue at a given
// reference time. Frequency contributes up to 50 points, user impact up to
// 30, recency up to 20.
func PriorityScore(issue models.Issue, now time.Time) float64 {
	score := 0.0

	score += min(float64(issue.Count)/10, 50)
	score += min(float64(issue.UserCount)/10, 30)

	if !issue.LastSeen.IsZero() {
		hoursAgo := now.Sub(issue.LastSeen).Hours()
		recency := 20 - hoursAgo
		if recency < 0 {
			recency = 0
		}
		score += min(recency, 20)
	}

	return score
}

// PriorityBucket maps a numeric score to its named bucket.
func PriorityBucket(score float64) string {
	switch {
	case score >= 80:
		return models.PriorityCritical
	case score >= 60:
		return models.PriorityHigh
	case score >= 40:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

// Group partitions issues by fingerprint. Groups are sorted by the highest
// member score descending, and members inside a group by score descending,
// so dispatch order is deterministic for a given scan.
func Group(issues []models.Issue, now time.Time) []models.IssueGroup {
	if len(issues) == 0 {
		return []models.IssueGroup{}
	}

	byKey := make(map[string][]models.Issue)
	for _, issue := range issues {
		key := Fingerprint(issue.Title)
		byKey[key] = append(byKey[key], issue)
	}

	groups := make([]models.IssueGroup, 0, len(byKey))
	for key, members := range byKey {
		sort.SliceStable(members, func(i, j int) bool {
			return PriorityScore(members[i], now) > PriorityScore(members[j], now)
		})
		groups = append(groups, models.IssueGroup{Key: key, Issues: members})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		si := PriorityScore(groups[i].Issues[0], now)
		sj := PriorityScore(groups[j].Issues[0], now)
		if si != sj {
			return si > sj
		}
		return groups[i].Key < groups[j].Key
	})

	return groups
}

// canonicalCase upper-cases the first rune only, preserving the interior
// casing of camel-case error names.
func canonicalCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
