package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
	kList // comma-separated
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "DAILYMATCH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "DAILYMATCH_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "server.api_token", typ: kString, env: "DAILYMATCH_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DAILYMATCH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "DAILYMATCH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "oracle.provider", typ: kString, env: "DAILYMATCH_ORACLE_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Oracle.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.Provider },
	},
	{
		key: "oracle.model", typ: kString, env: "DAILYMATCH_ORACLE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Oracle.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.Model },
	},
	{
		key: "oracle.timeout", typ: kDuration, env: "DAILYMATCH_ORACLE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Oracle.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Oracle.Timeout },
	},
	{
		key: "oracle.max_attempts", typ: kInt, env: "DAILYMATCH_ORACLE_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Oracle.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Oracle.MaxAttempts },
	},
	{
		key: "oracle.initial_backoff", typ: kDuration, env: "DAILYMATCH_ORACLE_INITIAL_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Oracle.InitialBackoff = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Oracle.InitialBackoff },
	},
	{
		key: "ollama.base_url", typ: kString, env: "DAILYMATCH_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "openrouter.api_key", typ: kString, env: "DAILYMATCH_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.APIKey },
	},
	{
		key: "openrouter.base_url", typ: kString, env: "DAILYMATCH_OPENROUTER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.BaseURL },
	},
	{
		key: "gemini.api_key", typ: kString, env: "DAILYMATCH_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "matching.exclude_ids", typ: kList, env: "DAILYMATCH_MATCHING_EXCLUDE_IDS",
		apply:   func(cfg *Config, v any) { cfg.Matching.ExcludeIDs = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Matching.ExcludeIDs, ",") },
	},
	{
		key: "matching.lock_lease", typ: kDuration, env: "DAILYMATCH_MATCHING_LOCK_LEASE",
		apply:   func(cfg *Config, v any) { cfg.Matching.LockLease = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Matching.LockLease },
	},
	{
		key: "scheduler.enabled", typ: kBool, env: "DAILYMATCH_SCHEDULER_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Scheduler.Enabled },
	},
	{
		key: "scheduler.run_hour", typ: kInt, env: "DAILYMATCH_SCHEDULER_RUN_HOUR",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.RunHour = v.(int) },
		extract: func(cfg Config) any { return cfg.Scheduler.RunHour },
	},
	{
		key: "scheduler.check_interval", typ: kDuration, env: "DAILYMATCH_SCHEDULER_CHECK_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.CheckInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Scheduler.CheckInterval },
	},
	{
		key: "metrics.enabled", typ: kBool, env: "DAILYMATCH_METRICS_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Metrics.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Metrics.Enabled },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts raw text to the key's Go type.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err == nil && d < 0 {
			return nil, fmt.Errorf("negative duration %s", raw)
		}
		return d, err
	case kList:
		var out []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString && s.typ != kList) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			slog.Warn("ignoring config value", "key", s.key, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			slog.Warn("ignoring environment override", "env", s.env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}
