package config

import (
	"fmt"
	"strings"
	"time"

	mnemeerrors "github.com/cadre-oss/mneme/internal/errors"
)

// Validate checks a configuration and reports every problem at once.
func Validate(cfg *Config) error {
	var errors []string

	validDrivers := map[string]bool{
		"sqlite":   true,
		"postgres": true,
		"memory":   true,
	}
	if !validDrivers[cfg.Store.Driver] {
		errors = append(errors, fmt.Sprintf("invalid store driver: %s (must be sqlite, postgres, or memory)", cfg.Store.Driver))
	}
	if cfg.Store.Driver == "postgres" && cfg.Store.DSN == "" {
		errors = append(errors, "postgres store requires a dsn")
	}

	validProviders := map[string]bool{
		"anthropic": true,
		"openai":    true,
	}
	if !validProviders[cfg.Provider.Name] {
		errors = append(errors, fmt.Sprintf("invalid provider: %s", cfg.Provider.Name))
	}
	if cfg.Provider.MaxRetries < 0 {
		errors = append(errors, "provider.max_retries must be non-negative")
	}

	validStrategies := map[string]bool{
		"llm":       true,
		"heuristic": true,
		"auto":      true,
	}
	if !validStrategies[cfg.Extraction.Strategy] {
		errors = append(errors, fmt.Sprintf("invalid extraction strategy: %s", cfg.Extraction.Strategy))
	}
	errors = appendDuration(errors, "extraction.timeout", cfg.Extraction.Timeout)
	errors = appendDuration(errors, "chat.session_ttl", cfg.Chat.SessionTTL)

	if cfg.Chat.Temperature < 0 || cfg.Chat.Temperature > 2 {
		errors = append(errors, "chat.temperature must be between 0 and 2")
	}
	if cfg.Search.Limit < 0 || cfg.Search.FallbackLimit < 0 {
		errors = append(errors, "search limits must be non-negative")
	}

	validHookTypes := map[string]bool{
		"shell":   true,
		"webhook": true,
		"log":     true,
	}
	for i, h := range cfg.Events.Hooks {
		name := h.Name
		if name == "" {
			errors = append(errors, fmt.Sprintf("hook %d: name is required", i))
			name = fmt.Sprintf("#%d", i)
		}
		if !validHookTypes[h.Type] {
			errors = append(errors, fmt.Sprintf("hook %s: invalid type %q", name, h.Type))
		}
		if h.Type == "shell" && h.Command == "" {
			errors = append(errors, fmt.Sprintf("hook %s: shell hook requires a command", name))
		}
		if h.Type == "webhook" && h.URL == "" {
			errors = append(errors, fmt.Sprintf("hook %s: webhook hook requires a url", name))
		}
		errors = appendDuration(errors, "hook "+name+" timeout", h.Timeout)
	}

	if cfg.Events.Redis.Enabled && cfg.Events.Redis.Addr == "" {
		errors = append(errors, "events.redis.addr is required when redis is enabled")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errors = append(errors, fmt.Sprintf("invalid logging level: %s", cfg.Logging.Level))
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid logging format: %s", cfg.Logging.Format))
	}

	if len(errors) > 0 {
		return mnemeerrors.New(mnemeerrors.CodeConfigInvalid, strings.Join(errors, "; ")).
			WithSuggestion("Fix the listed fields in " + FileName)
	}
	return nil
}

func appendDuration(errors []string, field, value string) []string {
	if value == "" {
		return errors
	}
	if _, err := time.ParseDuration(value); err != nil {
		return append(errors, fmt.Sprintf("invalid %s format %q: %s", field, value, err))
	}
	return errors
}
