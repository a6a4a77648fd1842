// Package config loads dailymatch settings: defaults, then the JSON config
// file, then DAILYMATCH_* environment variables. Secrets come only from the
// environment.
package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Log        LogConfig
	Oracle     OracleConfig
	Ollama     OllamaConfig
	OpenRouter OpenRouterConfig
	Gemini     GeminiConfig
	Matching   MatchingConfig
	Scheduler  SchedulerConfig
	Metrics    MetricsConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type OracleConfig struct {
	Provider       string // ollama, openrouter, gemini or fake
	Model          string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

type OllamaConfig struct {
	BaseURL string
}

type OpenRouterConfig struct {
	APIKey  string
	BaseURL string
}

type GeminiConfig struct {
	APIKey string
}

type MatchingConfig struct {
	ExcludeIDs []string
	LockLease  time.Duration
}

type SchedulerConfig struct {
	Enabled       bool
	RunHour       int
	CheckInterval time.Duration
}

type MetricsConfig struct {
	Enabled bool
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     4100,
			MaxConns: 256,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Oracle: OracleConfig{
			Provider:       "ollama",
			Model:          "mistral-nemo",
			Timeout:        30 * time.Second,
			MaxAttempts:    3,
			InitialBackoff: time.Second,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		OpenRouter: OpenRouterConfig{
			BaseURL: "https://openrouter.ai/api/v1",
		},
		Matching: MatchingConfig{
			LockLease: 5 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			RunHour:       3,
			CheckInterval: 5 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/dailymatch/config.json and DAILYMATCH_* environment
// variables, which win over the file.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Oracle.Provider {
	case "ollama", "fake":
	case "openrouter":
		if c.OpenRouter.APIKey == "" {
			return fmt.Errorf("missing required config: OpenRouter API key. Set it via environment variable DAILYMATCH_OPENROUTER_API_KEY")
		}
	case "gemini":
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("missing required config: Gemini API key. Set it via environment variable DAILYMATCH_GEMINI_API_KEY")
		}
	default:
		return fmt.Errorf("oracle.provider %q: want ollama, openrouter, gemini or fake", c.Oracle.Provider)
	}
	if c.Scheduler.RunHour < 0 || c.Scheduler.RunHour > 23 {
		return fmt.Errorf("scheduler.run_hour %d out of range 0-23", c.Scheduler.RunHour)
	}
	if c.Oracle.MaxAttempts < 1 {
		return fmt.Errorf("oracle.max_attempts must be at least 1")
	}
	return nil
}
