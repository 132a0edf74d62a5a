package agent

import (
	"fmt"

	"github.com/nikhilbarthwal/triagent/internal/agent/anthropic"
	"github.com/nikhilbarthwal/triagent/internal/agent/mock"
	"github.com/nikhilbarthwal/triagent/internal/agent/openai"
	"github.com/nikhilbarthwal/triagent/internal/config"
	"github.com/nikhilbarthwal/triagent/pkg/models"
)

// New constructs the configured fix provider.
// Called once at server startup.
func New(cfg config.AgentConfig) (models.FixProvider, error) {
	switch cfg.Provider {
	case "openai":
		return NewProviderFromCompleter(openai.NewClient(cfg.OpenAI)), nil
	case "anthropic":
		return NewProviderFromCompleter(anthropic.NewClient(cfg.Anthropic)), nil
	case "mock":
		return mock.NewProvider(), nil
	default:
		return nil, fmt.Errorf("unknown agent provider %q: must be one of openai, anthropic, mock", cfg.Provider)
	}
}
