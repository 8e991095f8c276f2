package companion

import (
	"context"
	"fmt"
	"time"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaioption "github.com/openai/openai-go/option"
	"github.com/redis/go-redis/v9"

	"github.com/cadre-oss/mneme/internal/background"
	"github.com/cadre-oss/mneme/internal/config"
	mnemeErrors "github.com/cadre-oss/mneme/internal/errors"
	"github.com/cadre-oss/mneme/internal/event"
	"github.com/cadre-oss/mneme/internal/extract"
	"github.com/cadre-oss/mneme/internal/memory"
	"github.com/cadre-oss/mneme/internal/provider"
	"github.com/cadre-oss/mneme/internal/provider/anthropic"
	"github.com/cadre-oss/mneme/internal/provider/openai"
	"github.com/cadre-oss/mneme/internal/telemetry"
)

// NewProvider builds the configured chat/reasoning provider wrapped with
// retries for transient failures. Retries are logged to logger when non-nil.
func NewProvider(cfg config.ProviderConfig, logger *telemetry.Logger) (provider.Provider, error) {
	var inner provider.Provider
	switch cfg.Name {
	case "anthropic", "":
		if cfg.APIKey == "" {
			return nil, mnemeErrors.New(mnemeErrors.CodeAPIKeyMissing, "ANTHROPIC_API_KEY not set").
				WithSuggestion("Set ANTHROPIC_API_KEY or provider.api_key in " + config.FileName)
		}
		var opts []anthropicoption.RequestOption
		if cfg.BaseURL != "" {
			opts = append(opts, anthropicoption.WithBaseURL(cfg.BaseURL))
		}
		inner = anthropic.NewClient(cfg.APIKey, cfg.Model, opts...)
	case "openai":
		if cfg.APIKey == "" {
			return nil, mnemeErrors.New(mnemeErrors.CodeAPIKeyMissing, "OPENAI_API_KEY not set").
				WithSuggestion("Set OPENAI_API_KEY or provider.api_key in " + config.FileName)
		}
		var opts []openaioption.RequestOption
		if cfg.BaseURL != "" {
			opts = append(opts, openaioption.WithBaseURL(cfg.BaseURL))
		}
		inner = openai.NewClient(cfg.APIKey, cfg.Model, opts...)
	default:
		return nil, mnemeErrors.Newf(mnemeErrors.CodeConfigInvalid, "unknown provider %q", cfg.Name)
	}

	retry := provider.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries
	if logger != nil {
		retry.OnRetry = func(attempt int, delay time.Duration, err error) {
			logger.Warn("Provider call failed, retrying",
				"provider", inner.Name(), "attempt", attempt+1, "delay", delay, "error", err)
		}
	}
	return provider.NewRetryProvider(inner, retry), nil
}

// NewStrategy picks the extraction strategy. "auto" uses the model when a
// provider is available and the cue-list heuristic otherwise.
func NewStrategy(name string, p provider.Provider, model string, store memory.Store) (extract.Strategy, error) {
	switch name {
	case "llm":
		if p == nil {
			return nil, mnemeErrors.New(mnemeErrors.CodeConfigInvalid, "llm extraction requires a provider").
				WithSuggestion("Set an API key or use extraction.strategy: heuristic")
		}
		return extract.NewLLMStrategy(p, model)
	case "heuristic":
		return extract.NewHeuristicStrategy(store), nil
	case "auto", "":
		if p != nil {
			return extract.NewLLMStrategy(p, model)
		}
		return extract.NewHeuristicStrategy(store), nil
	default:
		return nil, mnemeErrors.Newf(mnemeErrors.CodeConfigInvalid, "unknown extraction strategy %q", name)
	}
}

// RegisterHooks adds the configured hooks to bus.
func RegisterHooks(bus *event.Bus, hooks []config.HookConfig, logger *telemetry.Logger) error {
	for _, h := range hooks {
		events := make([]event.EventType, 0, len(h.Events))
		for _, e := range h.Events {
			events = append(events, event.EventType(e))
		}
		switch h.Type {
		case "shell":
			hook := event.NewShellHook(h.Name, h.Command, events, h.Blocking)
			if d := h.HookTimeout(); d > 0 {
				hook.Timeout = d
			}
			bus.Register(hook)
		case "webhook":
			hook := event.NewWebhookHook(h.Name, h.URL, events, h.Blocking)
			if d := h.HookTimeout(); d > 0 {
				hook.Timeout = d
			}
			bus.Register(hook)
		case "log":
			bus.Register(event.NewLogHook(h.Name, events, logger, h.Level))
		default:
			return mnemeErrors.Newf(mnemeErrors.CodeConfigInvalid, "hook %s: unknown type %q", h.Name, h.Type)
		}
	}
	return nil
}

// Runtime owns everything built from a configuration.
type Runtime struct {
	Config  *config.Config
	Service *Service
	Store   memory.Store
	Bus     *event.Bus
	Cache   *memory.ResultCache
	Relay   *event.RedisRelay // nil unless events.redis.enabled

	redis redis.UniversalClient
}

// RuntimeOptions supplies the process-level pieces a Runtime shares.
type RuntimeOptions struct {
	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
	Runner  background.Runner

	// RequireProvider fails Open when no provider can be built. When false
	// a missing API key degrades to heuristic extraction without chat.
	RequireProvider bool
}

// Open builds a Runtime from cfg.
func Open(ctx context.Context, cfg *config.Config, opts RuntimeOptions) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}

	store, err := memory.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, logger.Component("store"))
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg, Store: store, Bus: event.NewBus(logger.Component("events"))}
	fail := func(err error) (*Runtime, error) {
		_ = rt.Close()
		return nil, err
	}

	if err := RegisterHooks(rt.Bus, cfg.Events.Hooks, logger.Component("hooks")); err != nil {
		return fail(err)
	}

	if cfg.Events.Redis.Enabled {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Events.Redis.Addr,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
		})
		channel := cfg.Events.Redis.Channel
		rt.Bus.Register(event.NewRedisHook("redis-publish", rt.redis, channel, event.MemoryChanges))
		rt.Relay = event.NewRedisRelay(rt.redis, channel, rt.Bus, logger.Component("redis"))
	}

	if cfg.Search.Cache {
		if rt.Cache, err = memory.NewResultCache(cfg.Search.CacheSize); err != nil {
			return fail(fmt.Errorf("failed to create search cache: %w", err))
		}
	}

	p, err := NewProvider(cfg.Provider, logger.Component("provider"))
	if err != nil {
		if opts.RequireProvider {
			return fail(err)
		}
		logger.Warn("No model provider, chat disabled", "error", err)
		p = nil
	}

	strategy, err := NewStrategy(cfg.Extraction.Strategy, p, cfg.Extraction.Model, store)
	if err != nil {
		return fail(err)
	}
	logger.Debug("Extraction strategy selected", "strategy", strategy.Name())

	rt.Service, err = New(Options{
		Store:             store,
		Provider:          p,
		Strategy:          strategy,
		Runner:            opts.Runner,
		Bus:               rt.Bus,
		Logger:            logger,
		Metrics:           opts.Metrics,
		Cache:             rt.Cache,
		SearchLimit:       cfg.Search.Limit,
		FallbackLimit:     cfg.Search.FallbackLimit,
		ExtractionTimeout: cfg.ExtractionTimeout(),
		ExtractionEnabled: cfg.Extraction.Enabled,
		Chat: ChatSettings{
			SystemPrompt: cfg.Chat.SystemPrompt,
			Model:        cfg.Provider.Model,
			MaxTokens:    cfg.Chat.MaxTokens,
			Temperature:  cfg.Chat.Temperature,
			HistoryTurns: cfg.Chat.HistoryTurns,
			SessionTTL:   cfg.SessionTTL(),
		},
	})
	if err != nil {
		return fail(err)
	}
	return rt, nil
}

// closeDrainTimeout bounds how long Close waits for async hook deliveries.
const closeDrainTimeout = 5 * time.Second

// Close waits briefly for async hook deliveries, then releases the store,
// cache and Redis client.
func (rt *Runtime) Close() error {
	var firstErr error
	ctx, cancel := context.WithTimeout(context.Background(), closeDrainTimeout)
	defer cancel()
	if err := rt.Bus.Drain(ctx); err != nil {
		firstErr = fmt.Errorf("event hooks still running: %w", err)
	}
	rt.Cache.Close()
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if rt.Store != nil {
		if err := rt.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
