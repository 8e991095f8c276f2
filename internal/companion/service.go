// Package companion wires memory storage, search, context injection and
// extraction into the operations a chat front end calls.
package companion

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cadre-oss/mneme/internal/background"
	mnemeErrors "github.com/cadre-oss/mneme/internal/errors"
	"github.com/cadre-oss/mneme/internal/event"
	"github.com/cadre-oss/mneme/internal/extract"
	"github.com/cadre-oss/mneme/internal/inject"
	"github.com/cadre-oss/mneme/internal/memory"
	"github.com/cadre-oss/mneme/internal/provider"
	"github.com/cadre-oss/mneme/internal/telemetry"
)

// ChatSettings configures the chat model call.
type ChatSettings struct {
	SystemPrompt string
	Model        string
	MaxTokens    int
	Temperature  float64
	HistoryTurns int
	SessionTTL   time.Duration
}

// Options configures a Service. Store and Strategy are required; Provider
// is required only for Chat.
type Options struct {
	Store             memory.Store
	Provider          provider.Provider
	Strategy          extract.Strategy
	Runner            background.Runner
	Bus               *event.Bus
	Logger            *telemetry.Logger
	Metrics           *telemetry.Metrics
	Cache             *memory.ResultCache
	SearchLimit       int
	FallbackLimit     int
	ExtractionTimeout time.Duration
	ExtractionEnabled bool
	Chat              ChatSettings
}

// ChatReply is the outcome of one chat turn.
type ChatReply struct {
	SessionID string         `json:"session_id"`
	Response  string         `json:"response"`
	Augmented string         `json:"augmented"`
	JobID     string         `json:"job_id,omitempty"`
	Usage     provider.Usage `json:"usage"`
}

// Service is the caller-facing memory facade.
type Service struct {
	store    memory.Store
	searcher *memory.Searcher
	injector *inject.Injector
	pipeline *extract.Pipeline
	runner   background.Runner
	bus      *event.Bus
	chat     provider.Provider
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	settings ChatSettings
	extract  bool
	sessions *sessionStore

	// gen counts observed memory changes; localGen is the gen the local
	// list was read under. The list is stale while they differ.
	mu       sync.RWMutex
	local    []memory.Memory
	gen      uint64
	localGen uint64
}

// New creates a service. Memory change events on opts.Bus, local or relayed
// from other instances, invalidate the search cache and the local list.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, mnemeErrors.New(mnemeErrors.CodeConfigInvalid, "companion requires a memory store")
	}
	if opts.Strategy == nil {
		return nil, mnemeErrors.New(mnemeErrors.CodeConfigInvalid, "companion requires an extraction strategy")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NopLogger()
	}
	if opts.Bus == nil {
		opts.Bus = event.NewBus(opts.Logger)
	}
	if opts.Runner == nil {
		opts.Runner = &background.SyncRunner{Logger: opts.Logger}
	}

	searcher := memory.NewSearcher(opts.Store, memory.SearcherOptions{
		Limit:         opts.SearchLimit,
		FallbackLimit: opts.FallbackLimit,
		Cache:         opts.Cache,
		Logger:        opts.Logger,
		Metrics:       opts.Metrics,
	})

	s := &Service{
		store:    opts.Store,
		searcher: searcher,
		injector: inject.New(searcher, inject.MaxResults),
		pipeline: extract.NewPipeline(opts.Store, opts.Strategy, extract.Options{
			Logger:  opts.Logger,
			Bus:     opts.Bus,
			Metrics: opts.Metrics,
			Timeout: opts.ExtractionTimeout,
		}),
		runner:   opts.Runner,
		bus:      opts.Bus,
		chat:     opts.Provider,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		settings: opts.Chat,
		extract:  opts.ExtractionEnabled,
		sessions: newSessionStore(opts.Chat.HistoryTurns, opts.Chat.SessionTTL),
		gen:      1,
	}

	opts.Bus.Register(event.NewFuncHook("memory-cache", event.MemoryChanges, true, func(event.Event) error {
		s.invalidate()
		return nil
	}))
	return s, nil
}

// Bus returns the service's event bus.
func (s *Service) Bus() *event.Bus { return s.bus }

// Store returns the backing memory store.
func (s *Service) Store() memory.Store { return s.store }

func (s *Service) invalidate() {
	s.searcher.Invalidate()
	s.mu.Lock()
	s.gen++
	s.mu.Unlock()
}

// Local returns the cached memory list, re-reading the store when a write
// has been observed since the last read. A failed re-read keeps the
// previous list. A write that lands during the re-read leaves the list
// stale, so the next call reads again.
func (s *Service) Local(ctx context.Context) []memory.Memory {
	s.mu.RLock()
	local, seen := s.local, s.gen
	fresh := s.localGen == seen
	s.mu.RUnlock()
	if fresh {
		return local
	}
	all, err := s.store.Read(ctx)
	if err != nil {
		s.logger.Warn("Could not refresh local memories", "error", err)
		return local
	}
	s.setLocal(all, seen)
	return all
}

// setLocal records ms as read under generation seen. An older read never
// replaces a newer one.
func (s *Service) setLocal(ms []memory.Memory, seen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seen >= s.localGen {
		s.local = ms
		s.localGen = seen
	}
}

func (s *Service) generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// InjectContext returns message augmented with its relevant memories.
// A nil local list uses the service's cached list.
func (s *Service) InjectContext(ctx context.Context, message string, local []memory.Memory) string {
	if local == nil {
		local = s.Local(ctx)
	}
	return s.injector.Inject(ctx, message, local)
}

// ExtractAndPersist runs the extraction pipeline synchronously.
func (s *Service) ExtractAndPersist(ctx context.Context, message string, history []provider.Message) *extract.Result {
	return s.pipeline.Process(ctx, message, history)
}

// SubmitExtraction queues extraction on the background runner and returns
// the job id used in its log lines.
func (s *Service) SubmitExtraction(message string, history []provider.Message) string {
	jobID := uuid.NewString()
	history = append([]provider.Message(nil), history...)
	s.runner.Submit("extract:"+jobID, func(ctx context.Context) error {
		res := s.pipeline.Process(ctx, message, history)
		if !res.Success {
			return res.Err
		}
		s.logger.Debug("Extraction job finished", "job_id", jobID, "actions", res.ActionsTaken)
		return nil
	})
	return jobID
}

// ListMemories reads every stored memory and resyncs the local list.
func (s *Service) ListMemories(ctx context.Context) ([]memory.Memory, error) {
	seen := s.generation()
	all, err := s.store.Read(ctx)
	if err != nil {
		return nil, err
	}
	s.setLocal(all, seen)
	return all, nil
}

// AddMemory validates and inserts m.
func (s *Service) AddMemory(ctx context.Context, m memory.Memory) (memory.Memory, error) {
	m = m.Normalize()
	if err := m.Validate(); err != nil {
		return memory.Memory{}, err
	}
	if err := s.store.Add(ctx, m); err != nil {
		return memory.Memory{}, err
	}
	s.metrics.IncStoreWrite(ctx, "add")
	s.emit(event.MemoryAdded, m)
	return m, nil
}

// UpdateMemory patches the memory matched by title.
func (s *Service) UpdateMemory(ctx context.Context, title string, patch memory.Patch) (memory.Memory, error) {
	if patch.Empty() {
		return memory.Memory{}, mnemeErrors.New(mnemeErrors.CodeValidation, "update changes nothing").
			WithSuggestion("Set at least one of title, content, importance")
	}
	updated, err := s.store.Update(ctx, title, patch)
	if err != nil {
		return memory.Memory{}, err
	}
	s.metrics.IncStoreWrite(ctx, "update")
	s.emit(event.MemoryUpdated, updated)
	return updated, nil
}

// DeleteMemory removes the memory titled title. Deleting a title that does
// not exist succeeds with deleted=false; store failures are returned.
func (s *Service) DeleteMemory(ctx context.Context, title string) (bool, error) {
	title = strings.TrimSpace(title)
	stored := title
	if m, ok := memory.FindByTitle(s.Local(ctx), title); ok {
		stored = m.Title
	}
	err := s.store.Delete(ctx, title)
	if mnemeErrors.IsNotFound(err) {
		s.logger.Debug("Delete of unknown memory ignored", "title", title)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.metrics.IncStoreWrite(ctx, "delete")
	s.emit(event.MemoryDeleted, memory.Memory{Title: stored})
	return true, nil
}

// ClearAllMemories removes every memory.
func (s *Service) ClearAllMemories(ctx context.Context) (int, error) {
	n, err := s.store.ClearAll(ctx)
	if err != nil {
		return 0, err
	}
	s.metrics.IncStoreWrite(ctx, "clear")
	if err := s.bus.Emit(event.NewEvent(event.MemoryCleared, map[string]interface{}{"count": n})); err != nil {
		s.logger.Warn("Event hook failed", "event", string(event.MemoryCleared), "error", err)
	}
	return n, nil
}

// SearchMemories ranks stored memories against query. limit <= 0 uses the
// searcher's defaults.
func (s *Service) SearchMemories(ctx context.Context, query string, limit int) ([]memory.Memory, memory.Strategy) {
	return s.searcher.SearchN(ctx, query, s.Local(ctx), limit)
}

// Chat answers one user turn: the message is augmented with memories, sent
// with the session history, and the raw message plus reply are recorded.
// Extraction runs on the background runner.
func (s *Service) Chat(ctx context.Context, sessionID, message string) (reply *ChatReply, err error) {
	if s.chat == nil {
		return nil, mnemeErrors.New(mnemeErrors.CodeConfigInvalid, "chat requires a provider").
			WithSuggestion("Configure provider.name and an API key")
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, mnemeErrors.New(mnemeErrors.CodeValidation, "message is required")
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx, span := telemetry.StartSpan(ctx, "companion.chat", attribute.String("session.id", sessionID))
	defer func() { telemetry.EndSpan(span, err) }()

	history := s.sessions.History(sessionID)
	augmented := s.InjectContext(ctx, message, nil)

	messages := append(append([]provider.Message(nil), history...), provider.Message{Role: "user", Content: augmented})
	resp, err := s.chat.Complete(ctx, &provider.CompletionRequest{
		Model:       s.settings.Model,
		System:      s.settings.SystemPrompt,
		Messages:    messages,
		MaxTokens:   s.settings.MaxTokens,
		Temperature: s.settings.Temperature,
	})
	if err != nil {
		return nil, mnemeErrors.Wrap(mnemeErrors.CodeProviderError, "chat completion failed", err)
	}

	s.sessions.Append(sessionID,
		provider.Message{Role: "user", Content: message},
		provider.Message{Role: "assistant", Content: resp.Content},
	)

	reply = &ChatReply{
		SessionID: sessionID,
		Response:  resp.Content,
		Augmented: augmented,
		Usage:     resp.Usage,
	}
	if s.extract {
		reply.JobID = s.SubmitExtraction(message, history)
	}

	if err := s.bus.Emit(event.NewEvent(event.ChatReplied, map[string]interface{}{
		"session_id": sessionID,
		"job_id":     reply.JobID,
	})); err != nil {
		s.logger.Warn("Event hook failed", "event", string(event.ChatReplied), "error", err)
	}
	return reply, nil
}

// ResetSession forgets a chat session's history.
func (s *Service) ResetSession(sessionID string) {
	s.sessions.Reset(sessionID)
}

func (s *Service) emit(t event.EventType, m memory.Memory) {
	err := s.bus.Emit(event.NewEvent(t, map[string]interface{}{
		"title":      m.Title,
		"content":    m.Content,
		"importance": m.Importance,
	}))
	if err != nil {
		s.logger.Warn("Event hook failed", "event", string(t), "error", err)
	}
}

// IsProviderError reports whether err came from the chat model.
func IsProviderError(err error) bool {
	return mnemeErrors.AsCode(err) == mnemeErrors.CodeProviderError
}
