package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	mnemeErrors "github.com/cadre-oss/mneme/internal/errors"
	"github.com/cadre-oss/mneme/internal/event"
	"github.com/cadre-oss/mneme/internal/memory"
	"github.com/cadre-oss/mneme/internal/provider"
	"github.com/cadre-oss/mneme/internal/telemetry"
)

// Result reports what one extraction run did.
type Result struct {
	Success         bool            `json:"success"`
	ActionsTaken    []string        `json:"actions_taken"`
	NewMemories     []memory.Memory `json:"new_memories"`
	UpdatedMemories []memory.Memory `json:"updated_memories"`
	TotalMemories   int             `json:"total_memories"`
	Message         string          `json:"message,omitempty"`
	Err             error           `json:"-"`
}

// Logger is the logging surface the pipeline needs.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}

// Options configures a Pipeline.
type Options struct {
	Logger  Logger
	Bus     *event.Bus
	Metrics *telemetry.Metrics
	Timeout time.Duration // per-run bound on inference; zero means none
}

// Pipeline turns a user message into at most one stored memory.
type Pipeline struct {
	store    memory.Store
	strategy Strategy
	logger   Logger
	bus      *event.Bus
	metrics  *telemetry.Metrics
	timeout  time.Duration
	locks    *keyedMutex
}

// NewPipeline creates a pipeline writing to store.
func NewPipeline(store memory.Store, strategy Strategy, opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	return &Pipeline{
		store:    store,
		strategy: strategy,
		logger:   opts.Logger,
		bus:      opts.Bus,
		metrics:  opts.Metrics,
		timeout:  opts.Timeout,
		locks:    newKeyedMutex(),
	}
}

// Strategy returns the inference strategy in use.
func (p *Pipeline) Strategy() Strategy { return p.strategy }

// Process runs extraction for one message. It never panics and never
// returns an error: failures are logged and reported in the Result.
func (p *Pipeline) Process(ctx context.Context, message string, history []provider.Message) (res *Result) {
	ctx, span := telemetry.StartSpan(ctx, "extract.process",
		attribute.String("extract.strategy", p.strategy.Name()))
	defer func() {
		if r := recover(); r != nil {
			res = p.fail(ctx, fmt.Errorf("extraction panicked: %v", r))
		}
		telemetry.EndSpan(span, res.Err)
	}()

	res = &Result{ActionsTaken: []string{}, NewMemories: []memory.Memory{}, UpdatedMemories: []memory.Memory{}}

	inferCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		inferCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	cand, err := p.strategy.Infer(inferCtx, message, RecentContext(history))
	if err != nil {
		if !errors.Is(err, mnemeErrors.ErrExtractionParse) {
			return p.fail(ctx, err)
		}
		p.logger.Warn("Extraction output not parseable, nothing saved", "error", err)
		cand = noCandidate
	}

	m := memory.Memory{
		Title:      cand.Title,
		Content:    cand.Content,
		Importance: memory.ClampImportance(cand.Importance),
	}.Normalize()

	if !cand.ShouldSave || m.Title == "" || m.Content == "" {
		res.ActionsTaken = append(res.ActionsTaken, "No durable memory to save")
		p.metrics.IncExtraction(ctx, "skipped")
	} else {
		action, err := p.commit(ctx, m, res)
		if err != nil {
			return p.fail(ctx, err)
		}
		res.ActionsTaken = append(res.ActionsTaken, action)
		p.metrics.IncExtraction(ctx, "saved")
	}

	all, err := p.store.Read(ctx)
	if err != nil {
		return p.fail(ctx, err)
	}
	res.TotalMemories = len(all)
	res.Success = true
	res.Message = fmt.Sprintf("Processed message; %d memories stored", res.TotalMemories)

	p.emit(event.ExtractionCompleted, map[string]interface{}{
		"actions": res.ActionsTaken,
		"total":   res.TotalMemories,
	})
	return res
}

// commit upserts m by title under a per-title lock.
func (p *Pipeline) commit(ctx context.Context, m memory.Memory, res *Result) (string, error) {
	unlock := p.locks.Lock(memory.TitleKey(m.Title))
	defer unlock()

	all, err := p.store.Read(ctx)
	if err != nil {
		return "", err
	}

	if existing, ok := memory.FindByTitle(all, m.Title); ok {
		return p.update(ctx, existing.Title, m, res)
	}

	err = p.store.Add(ctx, m)
	if errors.Is(err, mnemeErrors.ErrDuplicateTitle) {
		// Another writer added it between our read and insert.
		p.logger.Debug("Title taken concurrently, updating instead", "title", m.Title)
		return p.update(ctx, m.Title, m, res)
	}
	if err != nil {
		return "", err
	}

	p.metrics.IncStoreWrite(ctx, "add")
	res.NewMemories = append(res.NewMemories, m)
	p.emit(event.MemoryAdded, memoryData(m))
	p.logger.Info("Memory added", "title", m.Title, "importance", m.Importance)
	return fmt.Sprintf("Added memory: %q", m.Title), nil
}

func (p *Pipeline) update(ctx context.Context, title string, m memory.Memory, res *Result) (string, error) {
	updated, err := p.store.Update(ctx, title, memory.Patch{
		Content:    &m.Content,
		Importance: &m.Importance,
	})
	if err != nil {
		return "", err
	}
	p.metrics.IncStoreWrite(ctx, "update")
	res.UpdatedMemories = append(res.UpdatedMemories, updated)
	p.emit(event.MemoryUpdated, memoryData(updated))
	p.logger.Info("Memory updated", "title", updated.Title, "importance", updated.Importance)
	return fmt.Sprintf("Updated memory: %q", updated.Title), nil
}

func (p *Pipeline) fail(ctx context.Context, err error) *Result {
	p.logger.Warn("Memory extraction failed", "error", err)
	p.metrics.IncExtraction(ctx, "failed")
	p.emit(event.ExtractionFailed, map[string]interface{}{"error": err.Error()})
	return &Result{
		Success:         false,
		ActionsTaken:    []string{},
		NewMemories:     []memory.Memory{},
		UpdatedMemories: []memory.Memory{},
		Message:         fmt.Sprintf("Failed to process message for memory: %v", err),
		Err:             err,
	}
}

func (p *Pipeline) emit(t event.EventType, data map[string]interface{}) {
	if err := p.bus.Emit(event.NewEvent(t, data)); err != nil {
		p.logger.Warn("Event hook failed", "event", string(t), "error", err)
	}
}

func memoryData(m memory.Memory) map[string]interface{} {
	return map[string]interface{}{
		"title":      m.Title,
		"content":    m.Content,
		"importance": m.Importance,
	}
}

// keyedMutex serializes work per key and frees idle entries.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
