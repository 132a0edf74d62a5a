// Package loki feeds log lines from Grafana Loki into analysis evidence.
// It queries the window leading up to an issue's last occurrence and
// returns lines matching the error type.
package loki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nikhilbarthwal/triagent/internal/config"
	"github.com/nikhilbarthwal/triagent/internal/evidence"
	"github.com/nikhilbarthwal/triagent/pkg/models"
)

// Sentinel errors for Loki failures.
var (
	ErrUnreachable = errors.New("loki unreachable")
	ErrQueryError  = errors.New("loki query error")
	ErrTimeout     = errors.New("loki query timeout")
)

const (
	defaultWindow = time.Hour
	defaultLimit  = 50
)

// Source queries Loki's HTTP API for lines correlated with an issue.
type Source struct {
	baseURL  string
	username string
	password string
	orgID    string
	service  string
	window   time.Duration
	limit    int
	client   *http.Client
}

// NewSource creates a Source from config. The caller is expected to skip
// construction entirely when cfg.BaseURL is empty.
func NewSource(cfg config.LokiConfig) *Source {
	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Source{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		orgID:    cfg.OrgID,
		service:  cfg.Service,
		window:   window,
		limit:    limit,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

// Logs fetches log lines from the window ending at the issue's last
// occurrence, filtered to the issue's error type.
func (s *Source) Logs(ctx context.Context, issue models.Issue) (*models.CloudLogsEvidence, error) {
	end := issue.LastSeen
	if end.IsZero() {
		end = time.Now().UTC()
	}
	start := end.Add(-s.window)

	params := url.Values{
		"query":     {s.buildQuery(issue)},
		"start":     {strconv.FormatInt(start.UnixNano(), 10)},
		"end":       {strconv.FormatInt(end.UnixNano(), 10)},
		"limit":     {strconv.Itoa(s.limit)},
		"direction": {"backward"},
	}

	u := fmt.Sprintf("%s/loki/api/v1/query_range?%s", s.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrQueryError, resp.StatusCode)
	}

	var body queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding loki response: %w", err)
	}

	return &models.CloudLogsEvidence{Lines: flattenStreams(body.Data.Result)}, nil
}

// Ready reports whether Loki is reachable and serving.
func (s *Source) Ready(ctx context.Context) error {
	u := s.baseURL + "/ready"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: loki not ready (status %d)", ErrUnreachable, resp.StatusCode)
	}

	return nil
}

// buildQuery forms a LogQL query scoped to the configured service, filtered
// by the issue's error type when one is known.
func (s *Source) buildQuery(issue models.Issue) string {
	selector := "{level=~\"error|warn\"}"
	if s.service != "" {
		selector = fmt.Sprintf("{service=%q}", s.service)
	}
	if issue.ErrorType == "" {
		return selector
	}
	return fmt.Sprintf("%s |= %q", selector, issue.ErrorType)
}

func (s *Source) setHeaders(req *http.Request) {
	if s.username != "" && s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}
	if s.orgID != "" {
		req.Header.Set("X-Scope-OrgID", s.orgID)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// flattenStreams renders stream values as timestamped lines, oldest first.
func flattenStreams(streams []stream) []string {
	type entry struct {
		ts   int64
		line string
	}
	var entries []entry
	for _, st := range streams {
		for _, v := range st.Values {
			ts, _ := strconv.ParseInt(v[0], 10, 64)
			line := fmt.Sprintf("%s %s", time.Unix(0, ts).UTC().Format(time.RFC3339), v[1])
			entries = append(entries, entry{ts: ts, line: line})
		}
	}

	// Loki returns newest first per stream; interleave by timestamp.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].ts < entries[j-1].ts; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.line)
	}
	return lines
}

// --- Loki response types ---

type queryResponse struct {
	Data queryData `json:"data"`
}

type queryData struct {
	ResultType string   `json:"resultType"`
	Result     []stream `json:"result"`
}

type stream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

var _ evidence.CloudLogsSource = (*Source)(nil)
