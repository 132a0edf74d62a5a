package evidence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nikhilbarthwal/triagent/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMetrics struct {
	m   *models.MetricsEvidence
	err error
}

func (s stubMetrics) Metrics(ctx context.Context, issue models.Issue) (*models.MetricsEvidence, error) {
	return s.m, s.err
}

type stubSessions struct {
	s   *models.SessionsEvidence
	err error
}

func (s stubSessions) Sessions(ctx context.Context, issue models.Issue) (*models.SessionsEvidence, error) {
	return s.s, s.err
}

type slowCode struct{}

func (slowCode) Code(ctx context.Context, issue models.Issue) (*models.CodeEvidence, error) {
	select {
	case <-time.After(10 * time.Second):
		return &models.CodeEvidence{File: "late.py"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGather_AllSourcesSucceed(t *testing.T) {
	g := NewGatherer(
		stubMetrics{m: &models.MetricsEvidence{CPUPercent: 90, MemoryPercent: 90, ErrorRate: 0.1, LatencyP95Ms: 2000}},
		stubSessions{s: &models.SessionsEvidence{AffectedSessions: 200}},
		nil, nil,
		time.Second, testLogger())

	issue := models.Issue{ID: "1", Count: 500, UserCount: 50}
	bundle := g.Gather(context.Background(), issue)

	require.NotNil(t, bundle.Metrics)
	require.NotNil(t, bundle.Sessions)
	assert.Empty(t, bundle.Errors)
	assert.Equal(t, 1.0, bundle.InfrastructureCorrelation)
	assert.InDelta(t, 40.0, bundle.UserImpactScore, 0.001) // 200/10 + 500/25
}

func TestGather_SourceFailureIsIsolated(t *testing.T) {
	g := NewGatherer(
		stubMetrics{err: errors.New("prometheus down")},
		stubSessions{s: &models.SessionsEvidence{AffectedSessions: 10}},
		nil, nil,
		time.Second, testLogger())

	bundle := g.Gather(context.Background(), models.Issue{ID: "1", UserCount: 5})

	assert.Nil(t, bundle.Metrics)
	require.NotNil(t, bundle.Sessions)
	require.Contains(t, bundle.Errors, SourceMetrics)
	assert.Contains(t, bundle.Errors[SourceMetrics], "prometheus down")
	// No metrics means unknown correlation, not a guess.
	assert.Equal(t, 0.0, bundle.InfrastructureCorrelation)
}

func TestGather_SlowSourceTimesOut(t *testing.T) {
	g := NewGatherer(nil, nil, nil, slowCode{}, 50*time.Millisecond, testLogger())

	start := time.Now()
	bundle := g.Gather(context.Background(), models.Issue{ID: "1"})

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Nil(t, bundle.Code)
	assert.Contains(t, bundle.Errors, SourceCode)
}

func TestGather_NoSources(t *testing.T) {
	g := NewGatherer(nil, nil, nil, nil, time.Second, testLogger())

	bundle := g.Gather(context.Background(), models.Issue{ID: "1", Count: 100, UserCount: 20})

	assert.Nil(t, bundle.Metrics)
	assert.Empty(t, bundle.Errors)
	// Impact still derives from issue counts alone.
	assert.InDelta(t, 6.0, bundle.UserImpactScore, 0.001) // 20/10 + 100/25
}

func TestInfrastructureCorrelation_Bounds(t *testing.T) {
	tests := []struct {
		name     string
		metrics  *models.MetricsEvidence
		expected float64
	}{
		{"nil metrics", nil, 0},
		{"idle system", &models.MetricsEvidence{CPUPercent: 10, MemoryPercent: 20}, 0},
		{"moderate load", &models.MetricsEvidence{CPUPercent: 65, MemoryPercent: 75}, 0.3},
		{"saturated", &models.MetricsEvidence{CPUPercent: 95, MemoryPercent: 95, ErrorRate: 0.2, LatencyP95Ms: 5000}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, infrastructureCorrelation(tt.metrics), 0.001)
		})
	}
}

func TestUserImpactScore_CapsAt100(t *testing.T) {
	issue := models.Issue{Count: 100000, UserCount: 100000}
	got := userImpactScore(issue, nil)
	assert.Equal(t, 100.0, got)
}
