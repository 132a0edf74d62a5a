// Package mock provides a FixProvider for tests and local development.
package mock

import (
	"context"

	"github.com/nikhilbarthwal/triagent/pkg/models"
)

// Provider satisfies models.FixProvider for testing.
type Provider struct {
	Name_       string
	AnalyzeFunc func(ctx context.Context, req models.FixRequest) (models.AnalysisResult, error)
}

func (m *Provider) Name() string { return m.Name_ }

func (m *Provider) Analyze(ctx context.Context, req models.FixRequest) (models.AnalysisResult, error) {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, req)
	}
	return models.AnalysisResult{}, nil
}

// NewProvider returns a Provider with a sensible canned result.
func NewProvider() *Provider {
	return &Provider{
		Name_: "mock",
		AnalyzeFunc: func(_ context.Context, req models.FixRequest) (models.AnalysisResult, error) {
			return models.AnalysisResult{
				RootCause:        "Simulated root cause from mock provider",
				ProposedFix:      "def handler(payload):\n    return payload.get('value')",
				AffectedFiles:    []string{"app/handlers.py"},
				TestPlan:         "# test_handler_missing_value (regression)\nassert handler({}) is None",
				Confidence:       0.85,
				CanAutoFix:       false,
				RequiresApproval: true,
				PatternsUsed:     len(req.Patterns),
				Model:            "mock-v1",
			}, nil
		},
	}
}

// NewFailingProvider returns a Provider that always returns the given error.
func NewFailingProvider(err error) *Provider {
	return &Provider{
		Name_: "mock-failing",
		AnalyzeFunc: func(_ context.Context, _ models.FixRequest) (models.AnalysisResult, error) {
			return models.AnalysisResult{}, err
		},
	}
}

// NewBlockingProvider returns a Provider that blocks until its context is
// cancelled, then surfaces the context error.
func NewBlockingProvider() *Provider {
	return &Provider{
		Name_: "mock-blocking",
		AnalyzeFunc: func(ctx context.Context, _ models.FixRequest) (models.AnalysisResult, error) {
			<-ctx.Done()
			return models.AnalysisResult{}, ctx.Err()
		},
	}
}

var _ models.FixProvider = (*Provider)(nil)
