// Package github implements the PR host boundary against the GitHub REST
// API. The orchestration core only sees the Host interface.
package github

import (
	"context"
	"fmt"
	"net/url"

	gh "github.com/google/go-github/v57/github"
	"github.com/nikhilbarthwal/triagent/internal/config"
	"golang.org/x/oauth2"

	"github.com/nikhilbarthwal/triagent/pkg/models"
)

// Host is the PR host boundary consumed by the PR lifecycle tracker.
type Host interface {
	// CreateFixPR creates a branch, commits the fix and test files, and
	// opens a pull request against the base branch.
	CreateFixPR(ctx context.Context, req CreatePRRequest) (*PRInfo, error)
	// PRStatus reads the live state of a pull request. Pure read.
	PRStatus(ctx context.Context, number int) (*models.PRStatus, error)
}

// CreatePRRequest describes one fix pull request.
type CreatePRRequest struct {
	Branch      string
	Title       string
	Body        string
	FixPath     string
	FixContent  string
	TestPath    string
	TestContent string
}

// PRInfo identifies a created pull request.
type PRInfo struct {
	Number int
	URL    string
	Branch string
}

// Client implements Host using go-github.
type Client struct {
	gh         *gh.Client
	owner      string
	repo       string
	baseBranch string
}

type clientParams struct {
	baseURL string
}

type ClientOption func(*clientParams)

// WithBaseURL points the client at a non-default API endpoint. Used in tests.
func WithBaseURL(u string) ClientOption {
	return func(p *clientParams) {
		p.baseURL = u
	}
}

func NewClient(ctx context.Context, cfg config.GitHubConfig, opts ...ClientOption) (*Client, error) {
	params := &clientParams{}
	for _, opt := range opts {
		opt(params)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	tc := oauth2.NewClient(ctx, ts)
	client := gh.NewClient(tc)

	if params.baseURL != "" {
		parsed, err := url.Parse(params.baseURL + "/")
		if err != nil {
			return nil, fmt.Errorf("parsing base url: %w", err)
		}
		client.BaseURL = parsed
	}

	return &Client{
		gh:         client,
		owner:      cfg.Owner,
		repo:       cfg.Repo,
		baseBranch: cfg.BaseBranch,
	}, nil
}

func (c *Client) CreateFixPR(ctx context.Context, req CreatePRRequest) (*PRInfo, error) {
	base, _, err := c.gh.Git.GetRef(ctx, c.owner, c.repo, "heads/"+c.baseBranch)
	if err != nil {
		return nil, fmt.Errorf("resolving base branch %s: %w", c.baseBranch, err)
	}

	_, _, err = c.gh.Git.CreateRef(ctx, c.owner, c.repo, &gh.Reference{
		Ref:    gh.String("refs/heads/" + req.Branch),
		Object: &gh.GitObject{SHA: base.Object.SHA},
	})
	if err != nil {
		return nil, fmt.Errorf("creating branch %s: %w", req.Branch, err)
	}

	if err := c.commitFile(ctx, req.Branch, req.FixPath, req.FixContent,
		fmt.Sprintf("Apply fix for %s", req.FixPath)); err != nil {
		return nil, err
	}
	if req.TestPath != "" && req.TestContent != "" {
		if err := c.commitFile(ctx, req.Branch, req.TestPath, req.TestContent,
			fmt.Sprintf("Add tests for %s", req.FixPath)); err != nil {
			return nil, err
		}
	}

	pr, _, err := c.gh.PullRequests.Create(ctx, c.owner, c.repo, &gh.NewPullRequest{
		Title: gh.String(req.Title),
		Head:  gh.String(req.Branch),
		Base:  gh.String(c.baseBranch),
		Body:  gh.String(req.Body),
	})
	if err != nil {
		return nil, fmt.Errorf("opening pull request: %w", err)
	}

	return &PRInfo{
		Number: pr.GetNumber(),
		URL:    pr.GetHTMLURL(),
		Branch: req.Branch,
	}, nil
}

func (c *Client) PRStatus(ctx context.Context, number int) (*models.PRStatus, error) {
	pr, _, err := c.gh.PullRequests.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		return nil, fmt.Errorf("fetching pr #%d: %w", number, err)
	}

	status := &models.PRStatus{
		State:  pr.GetState(),
		Number: number,
		URL:    pr.GetHTMLURL(),
		Branch: pr.GetHead().GetRef(),
		Merged: pr.GetMerged(),
		Closed: pr.GetState() == "closed",
	}
	if t := pr.GetUpdatedAt(); !t.IsZero() {
		ts := t.Time.UTC()
		status.UpdatedAt = &ts
	}

	// Check results are best-effort: a failing checks endpoint marks the
	// status stale instead of failing the whole read.
	sha := pr.GetHead().GetSHA()
	if sha == "" {
		status.ChecksStale = true
		return status, nil
	}
	runs, _, err := c.gh.Checks.ListCheckRunsForRef(ctx, c.owner, c.repo, sha, &gh.ListCheckRunsOptions{})
	if err != nil {
		status.ChecksStale = true
		return status, nil
	}
	status.AllChecksPassed = allPassed(runs)

	return status, nil
}

// allPassed is true only when every check run concluded successfully; any
// pending or failed run yields false.
func allPassed(runs *gh.ListCheckRunsResults) bool {
	if runs == nil || runs.GetTotal() == 0 {
		return false
	}
	for _, run := range runs.CheckRuns {
		if run.GetStatus() != "completed" || run.GetConclusion() != "success" {
			return false
		}
	}
	return true
}

func (c *Client) commitFile(ctx context.Context, branch, path, content, message string) error {
	_, _, err := c.gh.Repositories.CreateFile(ctx, c.owner, c.repo, path, &gh.RepositoryContentFileOptions{
		Message: gh.String(message),
		Content: []byte(content),
		Branch:  gh.String(branch),
	})
	if err != nil {
		return fmt.Errorf("committing %s: %w", path, err)
	}
	return nil
}

// BranchName derives a deterministic fix branch name for an analysis.
func BranchName(analysisID string) string {
	if len(analysisID) > 8 {
		analysisID = analysisID[:8]
	}
	return fmt.Sprintf("triagent/fix-%s", analysisID)
}

var _ Host = (*Client)(nil)
