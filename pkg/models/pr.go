package models

import "time"

// PRStatus is the live view of a fix pull request on the code host,
// combined with the locally tracked lifecycle state.
type PRStatus struct {
	State           string     `json:"state"`
	Number          int        `json:"number,omitempty"`
	URL             string     `json:"url,omitempty"`
	Branch          string     `json:"branch,omitempty"`
	Merged          bool       `json:"merged"`
	Closed          bool       `json:"closed"`
	AllChecksPassed bool       `json:"all_checks_passed"`
	ChecksStale     bool       `json:"checks_stale,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}
