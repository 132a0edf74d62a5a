package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Triagent server.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Tracker  TrackerConfig
	Loki     LokiConfig
	GitHub   GitHubConfig
	Agent    AgentConfig
	Triage   TriageConfig
	Analysis AnalysisConfig
	Learning LearningConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type StorageConfig struct {
	// Driver selects the backing store: "postgres" or "memory".
	Driver string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// TrackerConfig configures the monitoring backend issues are scanned from.
type TrackerConfig struct {
	BaseURL      string
	Token        string
	Organization string
	Project      string
	Environment  string
	Timeout      time.Duration
}

// LokiConfig configures the optional log backend used as the cloud-logs
// evidence source. An empty BaseURL disables the source.
type LokiConfig struct {
	BaseURL  string
	Username string
	Password string
	OrgID    string
	Service  string
	Window   time.Duration
	Limit    int
	Timeout  time.Duration
}

// GitHubConfig configures the code host used for fix pull requests.
type GitHubConfig struct {
	Token           string
	Owner           string
	Repo            string
	BaseBranch      string
	WebhookSecret   string
	PollInterval    time.Duration
	PollMaxAttempts int
}

type AgentConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	OpenAI           OpenAIConfig
	Anthropic        AnthropicConfig
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// TriageConfig holds priority admission thresholds.
type TriageConfig struct {
	MinScore float64
}

// AnalysisConfig bounds concurrent analysis units.
type AnalysisConfig struct {
	MaxConcurrent int
}

// LearningConfig holds learning store tuning.
type LearningConfig struct {
	SimilarityThreshold float64
	MaxMatches          int
	BootstrapCooldown   time.Duration
	BootstrapLookback   time.Duration
}

var validProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"mock":      true,
}

var validDrivers = map[string]bool{
	"postgres": true,
	"memory":   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("TRIAGENT_PORT", 8080),
			Env:  envString("TRIAGENT_ENV", "development"),
		},
		Storage: StorageConfig{
			Driver: envString("TRIAGENT_STORAGE_DRIVER", "postgres"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Tracker: TrackerConfig{
			BaseURL:      os.Getenv("TRACKER_BASE_URL"),
			Token:        os.Getenv("TRACKER_TOKEN"),
			Organization: os.Getenv("TRACKER_ORG"),
			Project:      os.Getenv("TRACKER_PROJECT"),
			Environment:  envString("TRACKER_ENVIRONMENT", "production"),
			Timeout:      envDuration("TRACKER_TIMEOUT", 30*time.Second),
		},
		Loki: LokiConfig{
			BaseURL:  os.Getenv("LOKI_BASE_URL"),
			Username: os.Getenv("LOKI_USERNAME"),
			Password: os.Getenv("LOKI_PASSWORD"),
			OrgID:    os.Getenv("LOKI_ORG_ID"),
			Service:  os.Getenv("LOKI_SERVICE_LABEL"),
			Window:   envDuration("LOKI_QUERY_WINDOW", time.Hour),
			Limit:    envInt("LOKI_QUERY_LIMIT", 50),
			Timeout:  envDuration("LOKI_TIMEOUT", 15*time.Second),
		},
		GitHub: GitHubConfig{
			Token:           os.Getenv("GITHUB_TOKEN"),
			Owner:           os.Getenv("GITHUB_OWNER"),
			Repo:            os.Getenv("GITHUB_REPO"),
			BaseBranch:      envString("GITHUB_BASE_BRANCH", "main"),
			WebhookSecret:   os.Getenv("GITHUB_WEBHOOK_SECRET"),
			PollInterval:    envDuration("GITHUB_PR_POLL_INTERVAL", 30*time.Second),
			PollMaxAttempts: envInt("GITHUB_PR_POLL_MAX_ATTEMPTS", 40),
		},
		Agent: AgentConfig{
			Provider:         os.Getenv("AGENT_PROVIDER"),
			InferenceTimeout: envDurationSecs("AGENT_INFERENCE_TIMEOUT_SECS", 120*time.Second),
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4"),
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com"),
			},
			Anthropic: AnthropicConfig{
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				Model:   envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
				BaseURL: envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			},
		},
		Triage: TriageConfig{
			MinScore: envFloat("TRIAGE_MIN_SCORE", 40),
		},
		Analysis: AnalysisConfig{
			MaxConcurrent: envInt("ANALYSIS_MAX_CONCURRENT", 3),
		},
		Learning: LearningConfig{
			SimilarityThreshold: envFloat("LEARNING_SIMILARITY_THRESHOLD", 0.4),
			MaxMatches:          envInt("LEARNING_MAX_MATCHES", 5),
			BootstrapCooldown:   envDuration("LEARNING_BOOTSTRAP_COOLDOWN", 6*30*24*time.Hour),
			BootstrapLookback:   envDuration("LEARNING_BOOTSTRAP_LOOKBACK", 6*30*24*time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !validDrivers[c.Storage.Driver] {
		return fmt.Errorf("TRIAGENT_STORAGE_DRIVER must be one of postgres, memory; got %q", c.Storage.Driver)
	}

	if c.Storage.Driver == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when TRIAGENT_STORAGE_DRIVER is postgres")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Tracker.BaseURL == "" {
		return fmt.Errorf("TRACKER_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Tracker.BaseURL, "http://") && !strings.HasPrefix(c.Tracker.BaseURL, "https://") {
		return fmt.Errorf("TRACKER_BASE_URL must start with http:// or https://, got %q", c.Tracker.BaseURL)
	}

	if c.Agent.Provider == "" {
		return fmt.Errorf("AGENT_PROVIDER is required")
	}
	if !validProviders[c.Agent.Provider] {
		return fmt.Errorf("AGENT_PROVIDER must be one of openai, anthropic, mock; got %q", c.Agent.Provider)
	}

	if c.Agent.Provider == "openai" && c.Agent.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AGENT_PROVIDER is openai")
	}
	if c.Agent.Provider == "anthropic" && c.Agent.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AGENT_PROVIDER is anthropic")
	}

	if c.Analysis.MaxConcurrent < 1 {
		return fmt.Errorf("ANALYSIS_MAX_CONCURRENT must be at least 1, got %d", c.Analysis.MaxConcurrent)
	}

	if c.Learning.SimilarityThreshold < 0 || c.Learning.SimilarityThreshold > 1 {
		return fmt.Errorf("LEARNING_SIMILARITY_THRESHOLD must be in [0, 1], got %g", c.Learning.SimilarityThreshold)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
