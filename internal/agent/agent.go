package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/nikhilbarthwal/triagent/pkg/models"
)

// Completer is the low-level contract a backend implements: send one prompt,
// get the raw text completion back. Prompt construction and result parsing
// live here so every backend behaves identically.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
	Model() string
}

// Provider adapts a Completer into a models.FixProvider.
type Provider struct {
	completer Completer
}

func NewProviderFromCompleter(c Completer) *Provider {
	return &Provider{completer: c}
}

func (p *Provider) Name() string { return p.completer.Name() }

func (p *Provider) Analyze(ctx context.Context, req models.FixRequest) (models.AnalysisResult, error) {
	text, err := p.completer.Complete(ctx, buildPrompt(req))
	if err != nil {
		return models.AnalysisResult{}, classifyError(err)
	}

	raw, err := parseRawResult(text)
	if err != nil {
		return models.AnalysisResult{}, err
	}

	confidence := raw.FixConfidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	result := models.AnalysisResult{
		RootCause:        raw.RootCause,
		ProposedFix:      raw.FixCode,
		TestPlan:         testPlan(raw.TestCases),
		Confidence:       confidence,
		CanAutoFix:       confidence >= 0.9,
		RequiresApproval: confidence < 0.9,
		PatternsUsed:     len(req.Patterns),
		Model:            p.completer.Model(),
	}
	if raw.FilePath != "" {
		result.AffectedFiles = []string{raw.FilePath}
	}
	return result, nil
}

// classifyError maps backend failures onto the package sentinels so callers
// can branch without knowing which backend is configured.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}

	var sc interface{ HTTPStatus() int }
	if errors.As(err, &sc) {
		switch {
		case sc.HTTPStatus() == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case sc.HTTPStatus() >= 500:
			return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	return err
}

var _ models.FixProvider = (*Provider)(nil)

