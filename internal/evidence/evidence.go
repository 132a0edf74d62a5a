// Package evidence gathers analysis context from auxiliary sources. Sources
// run concurrently and fail independently; a failed source contributes an
// error note instead of aborting the bundle.
package evidence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nikhilbarthwal/triagent/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Source names used in bundle error notes.
const (
	SourceMetrics   = "metrics"
	SourceSessions  = "sessions"
	SourceCloudLogs = "cloud_logs"
	SourceCode      = "code"
)

// MetricsSource provides infrastructure telemetry around an error window.
type MetricsSource interface {
	Metrics(ctx context.Context, issue models.Issue) (*models.MetricsEvidence, error)
}

// SessionsSource provides affected user session summaries.
type SessionsSource interface {
	Sessions(ctx context.Context, issue models.Issue) (*models.SessionsEvidence, error)
}

// CloudLogsSource provides log lines correlated with the error.
type CloudLogsSource interface {
	Logs(ctx context.Context, issue models.Issue) (*models.CloudLogsEvidence, error)
}

// CodeSource provides source context around the suspected location.
type CodeSource interface {
	Code(ctx context.Context, issue models.Issue) (*models.CodeEvidence, error)
}

// Gatherer fans out to configured sources and assembles an EvidenceBundle.
// Nil sources are skipped.
type Gatherer struct {
	metrics   MetricsSource
	sessions  SessionsSource
	cloudLogs CloudLogsSource
	code      CodeSource

	timeout time.Duration
	logger  *slog.Logger
}

// NewGatherer creates a Gatherer. Any source may be nil; timeout bounds each
// source individually.
func NewGatherer(metrics MetricsSource, sessions SessionsSource, cloudLogs CloudLogsSource, code CodeSource, timeout time.Duration, logger *slog.Logger) *Gatherer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gatherer{
		metrics:   metrics,
		sessions:  sessions,
		cloudLogs: cloudLogs,
		code:      code,
		timeout:   timeout,
		logger:    logger,
	}
}

// Gather collects evidence from all configured sources concurrently and
// computes the derived scores. It never fails as a whole: per-source errors
// are recorded in the bundle.
func (g *Gatherer) Gather(ctx context.Context, issue models.Issue) models.EvidenceBundle {
	var (
		mu     sync.Mutex
		bundle models.EvidenceBundle
	)

	fail := func(source string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if bundle.Errors == nil {
			bundle.Errors = make(map[string]string)
		}
		bundle.Errors[source] = err.Error()
		g.logger.Warn("evidence source failed", "source", source, "issue_id", issue.ID, "error", err)
	}

	eg, egCtx := errgroup.WithContext(ctx)

	if g.metrics != nil {
		eg.Go(func() error {
			sctx, cancel := context.WithTimeout(egCtx, g.timeout)
			defer cancel()
			m, err := g.metrics.Metrics(sctx, issue)
			if err != nil {
				fail(SourceMetrics, err)
				return nil
			}
			mu.Lock()
			bundle.Metrics = m
			mu.Unlock()
			return nil
		})
	}
	if g.sessions != nil {
		eg.Go(func() error {
			sctx, cancel := context.WithTimeout(egCtx, g.timeout)
			defer cancel()
			s, err := g.sessions.Sessions(sctx, issue)
			if err != nil {
				fail(SourceSessions, err)
				return nil
			}
			mu.Lock()
			bundle.Sessions = s
			mu.Unlock()
			return nil
		})
	}
	if g.cloudLogs != nil {
		eg.Go(func() error {
			sctx, cancel := context.WithTimeout(egCtx, g.timeout)
			defer cancel()
			l, err := g.cloudLogs.Logs(sctx, issue)
			if err != nil {
				fail(SourceCloudLogs, err)
				return nil
			}
			mu.Lock()
			bundle.CloudLogs = l
			mu.Unlock()
			return nil
		})
	}
	if g.code != nil {
		eg.Go(func() error {
			sctx, cancel := context.WithTimeout(egCtx, g.timeout)
			defer cancel()
			c, err := g.code.Code(sctx, issue)
			if err != nil {
				fail(SourceCode, err)
				return nil
			}
			mu.Lock()
			bundle.Code = c
			mu.Unlock()
			return nil
		})
	}

	// Workers swallow their own errors, so Wait cannot fail.
	_ = eg.Wait()

	bundle.InfrastructureCorrelation = infrastructureCorrelation(bundle.Metrics)
	bundle.UserImpactScore = userImpactScore(issue, bundle.Sessions)
	return bundle
}

// infrastructureCorrelation estimates 0-1 how strongly the error co-occurs
// with infrastructure stress. Without metrics the correlation is unknown
// and reported as zero.
func infrastructureCorrelation(m *models.MetricsEvidence) float64 {
	if m == nil {
		return 0
	}

	score := 0.0
	if m.CPUPercent >= 80 {
		score += 0.3
	} else if m.CPUPercent >= 60 {
		score += 0.15
	}
	if m.MemoryPercent >= 85 {
		score += 0.3
	} else if m.MemoryPercent >= 70 {
		score += 0.15
	}
	if m.ErrorRate >= 0.05 {
		score += 0.2
	}
	if m.LatencyP95Ms >= 1000 {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	return score
}

// userImpactScore estimates 0-100 impact from issue counts and affected
// sessions, mirroring the priority scoring weights.
func userImpactScore(issue models.Issue, s *models.SessionsEvidence) float64 {
	affected := float64(issue.UserCount)
	if s != nil && float64(s.AffectedSessions) > affected {
		affected = float64(s.AffectedSessions)
	}

	score := min(affected/10, 60)
	score += min(float64(issue.Count)/25, 40)
	if score > 100 {
		score = 100
	}
	return score
}
