package github

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v57/github"
	"github.com/nikhilbarthwal/triagent/internal/evidence"
	"github.com/nikhilbarthwal/triagent/pkg/models"
)

// ErrNoCodeLocation means the issue's culprit carries no file path to look up.
var ErrNoCodeLocation = errors.New("no code location in culprit")

// snippetRadius is the number of lines kept on each side of the suspect
// function when one is found.
const snippetRadius = 10

// Code fetches source context around the issue's culprit from the repository
// base branch. The culprit is the tracker's "path/to/file.py in function_name"
// form; a culprit without a recognizable path yields ErrNoCodeLocation.
func (c *Client) Code(ctx context.Context, issue models.Issue) (*models.CodeEvidence, error) {
	path, function := splitCulprit(issue.Culprit)
	if path == "" {
		return nil, ErrNoCodeLocation
	}

	file, _, _, err := c.gh.Repositories.GetContents(ctx, c.owner, c.repo, path,
		&gh.RepositoryContentGetOptions{Ref: c.baseBranch})
	if err != nil {
		return nil, fmt.Errorf("fetching %s@%s: %w", path, c.baseBranch, err)
	}
	if file == nil {
		return nil, fmt.Errorf("%s is not a file", path)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	ev := &models.CodeEvidence{
		File:    path,
		Snippet: snippetAround(content, function),
	}

	// Last-change attribution is best-effort; a failing commits listing
	// still leaves a usable snippet.
	commits, _, err := c.gh.Repositories.ListCommits(ctx, c.owner, c.repo, &gh.CommitsListOptions{
		Path:        path,
		SHA:         c.baseBranch,
		ListOptions: gh.ListOptions{PerPage: 1},
	})
	if err == nil && len(commits) > 0 {
		last := commits[0]
		ev.Blame = fmt.Sprintf("%s %s (%s)",
			shortSHA(last.GetSHA()),
			firstLine(last.GetCommit().GetMessage()),
			last.GetCommit().GetAuthor().GetName())
	}

	return ev, nil
}

// splitCulprit separates the "file in function" culprit form. A culprit
// without the " in " separator is treated as a bare path if it looks like one.
func splitCulprit(culprit string) (path, function string) {
	culprit = strings.TrimSpace(culprit)
	if culprit == "" {
		return "", ""
	}
	if p, fn, ok := strings.Cut(culprit, " in "); ok {
		return strings.TrimSpace(p), strings.TrimSpace(fn)
	}
	if strings.ContainsAny(culprit, "/.") && !strings.Contains(culprit, " ") {
		return culprit, ""
	}
	return "", ""
}

// snippetAround returns the lines surrounding the first mention of the
// function, or the head of the file when the function is empty or absent.
func snippetAround(content, function string) string {
	lines := strings.Split(content, "\n")

	at := -1
	if function != "" {
		for i, line := range lines {
			if strings.Contains(line, function) {
				at = i
				break
			}
		}
	}
	if at < 0 {
		if len(lines) > 2*snippetRadius {
			lines = lines[:2*snippetRadius]
		}
		return strings.Join(lines, "\n")
	}

	start := max(at-snippetRadius, 0)
	end := min(at+snippetRadius+1, len(lines))
	return strings.Join(lines[start:end], "\n")
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

var _ evidence.CodeSource = (*Client)(nil)
