package config

import "time"

// Config represents the main configuration (mneme.yaml)
type Config struct {
	Name       string           `yaml:"name" json:"name"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Provider   ProviderConfig   `yaml:"provider" json:"provider"`
	Chat       ChatConfig       `yaml:"chat" json:"chat"`
	Extraction ExtractionConfig `yaml:"extraction" json:"extraction"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Events     EventsConfig     `yaml:"events" json:"events"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
}

// StoreConfig selects the memory store backend
type StoreConfig struct {
	Driver string `yaml:"driver" json:"driver"` // sqlite, postgres, memory
	DSN    string `yaml:"dsn" json:"dsn"`       // file path or connection string
}

// ProviderConfig configures the LLM provider
type ProviderConfig struct {
	Name       string `yaml:"name" json:"name"` // anthropic, openai
	Model      string `yaml:"model" json:"model"`
	APIKey     string `yaml:"api_key,omitempty" json:"-"`
	BaseURL    string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	MaxRetries int    `yaml:"max_retries" json:"max_retries"`
}

// ChatConfig configures the conversational model call
type ChatConfig struct {
	SystemPrompt string  `yaml:"system_prompt" json:"system_prompt"`
	MaxTokens    int     `yaml:"max_tokens" json:"max_tokens"`
	Temperature  float64 `yaml:"temperature" json:"temperature"`
	HistoryTurns int     `yaml:"history_turns" json:"history_turns"` // turns kept per session
	SessionTTL   string  `yaml:"session_ttl" json:"session_ttl"`     // e.g. "30m"
}

// ExtractionConfig configures the extraction pipeline
type ExtractionConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Strategy string `yaml:"strategy" json:"strategy"` // llm, heuristic, auto
	Model    string `yaml:"model,omitempty" json:"model,omitempty"`
	Timeout  string `yaml:"timeout,omitempty" json:"timeout,omitempty"` // empty means unbounded
}

// SearchConfig configures relevance search
type SearchConfig struct {
	Limit         int   `yaml:"limit" json:"limit"`
	FallbackLimit int   `yaml:"fallback_limit" json:"fallback_limit"`
	Cache         bool  `yaml:"cache" json:"cache"`
	CacheSize     int64 `yaml:"cache_size" json:"cache_size"`
}

// EventsConfig configures memory event hooks and cross-instance fan-out
type EventsConfig struct {
	Hooks []HookConfig `yaml:"hooks" json:"hooks"`
	Redis RedisConfig  `yaml:"redis" json:"redis"`
}

// HookConfig defines a single hook.
type HookConfig struct {
	Name     string   `yaml:"name" json:"name"`
	Type     string   `yaml:"type" json:"type"`     // shell, webhook, log
	Events   []string `yaml:"events" json:"events"` // event types to match
	Blocking bool     `yaml:"blocking" json:"blocking"`
	Command  string   `yaml:"command,omitempty" json:"command,omitempty"` // for shell hooks
	URL      string   `yaml:"url,omitempty" json:"url,omitempty"`         // for webhook hooks
	Level    string   `yaml:"level,omitempty" json:"level,omitempty"`     // for log hooks (debug, info, warn)
	Timeout  string   `yaml:"timeout,omitempty" json:"timeout,omitempty"` // shell and webhook hooks
}

// HookTimeout parses Timeout; zero means the hook's default.
func (h HookConfig) HookTimeout() time.Duration {
	d, _ := time.ParseDuration(h.Timeout)
	return max(d, 0)
}

// RedisConfig configures the Redis event relay
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password,omitempty" json:"-"`
	DB       int    `yaml:"db" json:"db"`
	Channel  string `yaml:"channel" json:"channel"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // text, json
	File   string `yaml:"file,omitempty" json:"file,omitempty"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// TelemetryConfig configures OpenTelemetry
type TelemetryConfig struct {
	Tracing     bool   `yaml:"tracing" json:"tracing"`
	ServiceName string `yaml:"service_name" json:"service_name"`
}

// ExtractionTimeout parses Extraction.Timeout; zero means no timeout.
func (c *Config) ExtractionTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Extraction.Timeout)
	return d
}

// SessionTTL parses Chat.SessionTTL.
func (c *Config) SessionTTL() time.Duration {
	d, err := time.ParseDuration(c.Chat.SessionTTL)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}
