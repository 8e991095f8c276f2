package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the working directory.
const FileName = "mneme.yaml"

// DefaultSystemPrompt frames the companion's replies.
const DefaultSystemPrompt = `You are a warm, attentive companion who remembers what the user tells you.
Messages may begin with ADDITIONAL CONTEXT holding stored memories about the user, or with
NO MEMORIES FOUND FOR THIS QUERY. when nothing relevant is stored. Use memories naturally,
never invent facts that are not in them, and answer the USER MESSAGE.`

// Load loads mneme.yaml from dir, or defaults when the file is absent.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile loads a configuration file. A missing file yields defaults.
func LoadFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Interpolate environment variables
	content = []byte(interpolateEnv(string(content)))

	cfg := defaultConfig()
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides copies values set through viper (flags bound to keys such
// as "store.driver", or MNEME_STORE_DRIVER style environment variables)
// over cfg.
func ApplyOverrides(cfg *Config, v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			if s := v.GetString(key); s != "" {
				*dst = s
			}
		}
	}
	num := func(key string, dst *int) {
		if v.IsSet(key) {
			if n := v.GetInt(key); n > 0 {
				*dst = n
			}
		}
	}

	str("store.driver", &cfg.Store.Driver)
	str("store.dsn", &cfg.Store.DSN)
	str("provider.name", &cfg.Provider.Name)
	str("provider.model", &cfg.Provider.Model)
	str("provider.api_key", &cfg.Provider.APIKey)
	str("provider.base_url", &cfg.Provider.BaseURL)
	str("extraction.strategy", &cfg.Extraction.Strategy)
	str("extraction.timeout", &cfg.Extraction.Timeout)
	num("search.limit", &cfg.Search.Limit)
	str("events.redis.addr", &cfg.Events.Redis.Addr)
	str("logging.level", &cfg.Logging.Level)
	str("logging.format", &cfg.Logging.Format)
	str("logging.file", &cfg.Logging.File)
	str("server.addr", &cfg.Server.Addr)

	if v.IsSet("events.redis.enabled") {
		cfg.Events.Redis.Enabled = v.GetBool("events.redis.enabled")
	}
	if v.IsSet("telemetry.tracing") {
		cfg.Telemetry.Tracing = v.GetBool("telemetry.tracing")
	}
	if v.IsSet("extraction.enabled") {
		cfg.Extraction.Enabled = v.GetBool("extraction.enabled")
	}
}

// interpolateEnv replaces ${env.VAR} and ${VAR} with environment values
func interpolateEnv(content string) string {
	// Match ${env.VAR} pattern
	envPattern := regexp.MustCompile(`\$\{env\.([^}]+)\}`)
	content = envPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // keep original if not found
	})

	// Match ${VAR} and ${VAR:-default}
	varPattern := regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)
	content = varPattern.ReplaceAllStringFunc(content, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		if parts[2] != "" {
			return parts[3]
		}
		return match
	})

	return content
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := defaultConfig()
	applyDefaults(cfg)
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		Name: "mneme",
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    ".mneme/memory.db",
		},
		Provider: ProviderConfig{
			Name:       "anthropic",
			MaxRetries: 3,
		},
		Chat: ChatConfig{
			SystemPrompt: DefaultSystemPrompt,
			MaxTokens:    1024,
			Temperature:  0.7,
			HistoryTurns: 20,
			SessionTTL:   "30m",
		},
		Extraction: ExtractionConfig{
			Enabled:  true,
			Strategy: "auto",
		},
		Search: SearchConfig{
			Limit:         5,
			FallbackLimit: 3,
			Cache:         true,
			CacheSize:     256,
		},
		Events: EventsConfig{
			Redis: RedisConfig{
				Addr:    "localhost:6379",
				Channel: "mneme:events",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: "localhost:8080",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "mneme",
		},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.DSN == "" {
		cfg.Store.DSN = ".mneme/memory.db"
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "anthropic"
	}
	if cfg.Provider.Model == "" {
		switch cfg.Provider.Name {
		case "openai":
			cfg.Provider.Model = "gpt-4o-mini"
		default:
			cfg.Provider.Model = "claude-sonnet-4-20250514"
		}
	}
	if strings.TrimSpace(cfg.Chat.SystemPrompt) == "" {
		cfg.Chat.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Chat.MaxTokens == 0 {
		cfg.Chat.MaxTokens = 1024
	}
	if cfg.Chat.HistoryTurns == 0 {
		cfg.Chat.HistoryTurns = 20
	}
	if cfg.Extraction.Strategy == "" {
		cfg.Extraction.Strategy = "auto"
	}
	if cfg.Search.Limit == 0 {
		cfg.Search.Limit = 5
	}
	if cfg.Search.FallbackLimit == 0 {
		cfg.Search.FallbackLimit = 3
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "localhost:8080"
	}

	// Load API key from environment if not set or left uninterpolated
	if cfg.Provider.APIKey == "" || strings.HasPrefix(cfg.Provider.APIKey, "${") {
		switch cfg.Provider.Name {
		case "openai":
			cfg.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
		default:
			cfg.Provider.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
}
