// Package mneme provides a public API for embedding the mneme memory
// subsystem in another Go program.
//
// Example usage:
//
//	import "github.com/cadre-oss/mneme/pkg/mneme"
//
//	// Save whatever is worth remembering from a message
//	result, err := mneme.Remember("My name is Alex and I have a cat")
//
//	// Find what is relevant to a new message
//	memories, err := mneme.Search("what's my cat called?")
//
//	// Keep a companion open for a conversation
//	c, err := mneme.Open(ctx, ".")
//	defer c.Close(ctx)
//	reply, err := c.Chat(ctx, "", "Hi!")
package mneme

import (
	"context"
	"fmt"

	"github.com/cadre-oss/mneme/internal/background"
	"github.com/cadre-oss/mneme/internal/companion"
	"github.com/cadre-oss/mneme/internal/config"
	"github.com/cadre-oss/mneme/internal/extract"
	"github.com/cadre-oss/mneme/internal/memory"
	"github.com/cadre-oss/mneme/internal/telemetry"
)

// Memory is a stored fact or preference.
type Memory = memory.Memory

// Patch replaces the non-nil fields of a memory.
type Patch = memory.Patch

// Result reports what one extraction run did.
type Result = extract.Result

// ChatReply is one answered chat turn.
type ChatReply = companion.ChatReply

// Config is the mneme.yaml configuration.
type Config = config.Config

// Companion is an open memory runtime. Background extractions started by
// Chat finish before Close returns.
type Companion struct {
	rt     *companion.Runtime
	runner *background.GoRunner
	logger *telemetry.Logger
}

// Open loads mneme.yaml from dir and opens its store and provider.
// Without a provider key, chat is unavailable and extraction falls back
// to the heuristic strategy.
func Open(ctx context.Context, dir string) (*Companion, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return OpenWithConfig(ctx, cfg)
}

// OpenWithConfig opens a companion from an already loaded configuration.
func OpenWithConfig(ctx context.Context, cfg *Config) (*Companion, error) {
	logger := telemetry.NewLoggerWithOptions(telemetry.LoggerOptions{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	runner := background.NewGoRunner(context.WithoutCancel(ctx), logger)
	rt, err := companion.Open(ctx, cfg, companion.RuntimeOptions{Logger: logger, Runner: runner})
	if err != nil {
		return nil, err
	}
	return &Companion{rt: rt, runner: runner, logger: logger}, nil
}

// Chat answers message within sessionID. An empty sessionID starts a new
// session; the reply carries its ID.
func (c *Companion) Chat(ctx context.Context, sessionID, message string) (*ChatReply, error) {
	return c.rt.Service.Chat(ctx, sessionID, message)
}

// Remember runs extraction on message and saves the result.
func (c *Companion) Remember(ctx context.Context, message string) *Result {
	return c.rt.Service.ExtractAndPersist(ctx, message, nil)
}

// Search returns up to n memories relevant to query; n <= 0 uses the
// configured limit.
func (c *Companion) Search(ctx context.Context, query string, n int) []Memory {
	results, _ := c.rt.Service.SearchMemories(ctx, query, n)
	return results
}

// Augment returns message with its relevant memories prepended.
func (c *Companion) Augment(ctx context.Context, message string) string {
	return c.rt.Service.InjectContext(ctx, message, nil)
}

// Memories lists every stored memory, most important first.
func (c *Companion) Memories(ctx context.Context) ([]Memory, error) {
	return c.rt.Service.ListMemories(ctx)
}

// Add stores a new memory.
func (c *Companion) Add(ctx context.Context, m Memory) (Memory, error) {
	return c.rt.Service.AddMemory(ctx, m)
}

// Update patches the memory matched by title.
func (c *Companion) Update(ctx context.Context, title string, patch Patch) (Memory, error) {
	return c.rt.Service.UpdateMemory(ctx, title, patch)
}

// Forget deletes the memory with the given title. It reports false when
// nothing matched.
func (c *Companion) Forget(ctx context.Context, title string) (bool, error) {
	return c.rt.Service.DeleteMemory(ctx, title)
}

// Close waits for background extractions and releases the store.
func (c *Companion) Close(ctx context.Context) error {
	waitErr := c.runner.Wait(ctx)
	closeErr := c.rt.Close()
	c.logger.Close()
	if waitErr != nil {
		return waitErr
	}
	return closeErr
}

// Remember opens the companion in the current directory, extracts from
// message, and closes it again.
func Remember(message string) (*Result, error) {
	return RememberWithContext(context.Background(), message)
}

// RememberWithContext is Remember with a context.
func RememberWithContext(ctx context.Context, message string) (*Result, error) {
	c, err := Open(ctx, ".")
	if err != nil {
		return nil, err
	}
	defer c.Close(ctx)

	res := c.Remember(ctx, message)
	if !res.Success {
		return res, res.Err
	}
	return res, nil
}

// Search opens the companion in the current directory and returns the
// memories relevant to query.
func Search(query string) ([]Memory, error) {
	return SearchWithContext(context.Background(), query)
}

// SearchWithContext is Search with a context.
func SearchWithContext(ctx context.Context, query string) ([]Memory, error) {
	c, err := Open(ctx, ".")
	if err != nil {
		return nil, err
	}
	defer c.Close(ctx)
	return c.Search(ctx, query, 0), nil
}
