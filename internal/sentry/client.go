// Package sentry is the HTTP client for the Sentry-compatible issue tracker.
package sentry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/nikhilbarthwal/triagent/pkg/models"
)

// Sentinel errors for tracker client failures.
var (
	ErrTrackerUnreachable = errors.New("tracker unreachable")
	ErrTrackerQueryError  = errors.New("tracker query error")
	ErrTrackerTimeout     = errors.New("tracker query timeout")
)

// maxPages caps the pagination loop on bulk issue fetches.
const maxPages = 10

// Client is the interface for querying the issue tracker.
type Client interface {
	ListIssues(ctx context.Context, req IssuesRequest) ([]models.Issue, error)
	Ready(ctx context.Context) error
}

// IssuesRequest defines parameters for an issue search.
type IssuesRequest struct {
	Query string
	Start time.Time
	End   time.Time
	Limit int
	Sort  string
}

// HTTPClient implements Client using the tracker's REST API.
type HTTPClient struct {
	baseURL      string
	token        string
	organization string
	client       *http.Client
}

// NewHTTPClient creates a new tracker HTTP client.
func NewHTTPClient(baseURL, token, organization string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:      baseURL,
		token:        token,
		organization: organization,
		client:       &http.Client{Timeout: timeout},
	}
}

// nextCursorRe extracts the pagination cursor from the tracker's Link header.
var nextCursorRe = regexp.MustCompile(`cursor=([^>]+)>; rel="next"; results="true"`)

func (c *HTTPClient) ListIssues(ctx context.Context, req IssuesRequest) ([]models.Issue, error) {
	limit := req.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	sort := req.Sort
	if sort == "" {
		sort = "freq"
	}

	params := url.Values{
		"query": {req.Query},
		"sort":  {sort},
		"limit": {strconv.Itoa(limit)},
	}
	if !req.Start.IsZero() {
		params.Set("start", req.Start.UTC().Format("2006-01-02T15:04:05Z"))
	}
	if !req.End.IsZero() {
		params.Set("end", req.End.UTC().Format("2006-01-02T15:04:05Z"))
	}

	var all []models.Issue
	for page := 0; page < maxPages; page++ {
		u := fmt.Sprintf("%s/api/0/organizations/%s/issues/?%s",
			c.baseURL, url.PathEscape(c.organization), params.Encode())

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		c.setHeaders(httpReq)

		resp, err := c.client.Do(httpReq)
		if err != nil {
			return nil, classifyError(err)
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: status %d", ErrTrackerQueryError, resp.StatusCode)
		}

		var pageIssues []trackerIssue
		err = json.NewDecoder(resp.Body).Decode(&pageIssues)
		link := resp.Header.Get("Link")
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decoding tracker response: %w", err)
		}

		if len(pageIssues) == 0 {
			break
		}
		for _, ti := range pageIssues {
			all = append(all, ti.toIssue())
		}

		m := nextCursorRe.FindStringSubmatch(link)
		if m == nil {
			break
		}
		params.Set("cursor", m[1])
	}

	if all == nil {
		return []models.Issue{}, nil
	}
	return all, nil
}

func (c *HTTPClient) Ready(ctx context.Context) error {
	u := fmt.Sprintf("%s/api/0/organizations/%s/", c.baseURL, url.PathEscape(c.organization))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTrackerUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: tracker not ready (status %d)", ErrTrackerUnreachable, resp.StatusCode)
	}

	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTrackerTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTrackerTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrTrackerUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrTrackerUnreachable, err)
}

// --- Tracker response types ---

// trackerIssue is the wire shape of one issue. Count fields arrive as
// strings from some tracker versions, so both are decoded leniently.
type trackerIssue struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Culprit   string          `json:"culprit"`
	Count     json.RawMessage `json:"count"`
	UserCount json.RawMessage `json:"userCount"`
	LastSeen  string          `json:"lastSeen"`
	Permalink string          `json:"permalink"`
}

func (ti trackerIssue) toIssue() models.Issue {
	issue := models.Issue{
		ID:        ti.ID,
		Title:     ti.Title,
		Culprit:   ti.Culprit,
		Count:     lenientInt(ti.Count),
		UserCount: lenientInt(ti.UserCount),
		Permalink: ti.Permalink,
	}
	if ts, err := time.Parse(time.RFC3339, ti.LastSeen); err == nil {
		issue.LastSeen = ts.UTC()
	}
	return issue
}

// lenientInt decodes a JSON number or numeric string to an int.
func lenientInt(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
	}
	return 0
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
