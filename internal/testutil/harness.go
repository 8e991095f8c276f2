package testutil

import (
	"sync"
	"testing"

	"github.com/cadre-oss/mneme/internal/config"
	"github.com/cadre-oss/mneme/internal/event"
	"github.com/cadre-oss/mneme/internal/memory"
	"github.com/cadre-oss/mneme/internal/provider"
	"github.com/cadre-oss/mneme/internal/telemetry"
)

// TestHarness provides everything needed for integration tests:
// config, an in-memory store, events, a mock provider, and assertion helpers.
type TestHarness struct {
	T        *testing.T
	Config   *config.Config
	Store    *memory.InMemoryStore
	EventBus *event.Bus
	Logger   *telemetry.Logger
	Provider *MockProvider

	mu     sync.Mutex
	events []event.Event // captured events
}

// NewTestHarness creates a test harness with default configuration.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	logger := TestLogger(t)
	bus := event.NewBus(logger)

	h := &TestHarness{
		T:        t,
		Config:   TestConfig(),
		Store:    memory.NewInMemoryStore(logger),
		EventBus: bus,
		Logger:   logger,
		Provider: &MockProvider{},
	}

	// Capture events via a hook
	bus.Register(&eventCapture{harness: h})
	t.Cleanup(func() { _ = h.Store.Close() })

	return h
}

// Seed stores memories directly, bypassing validation.
func (h *TestHarness) Seed(memories ...memory.Memory) {
	h.Store.Seed(memories...)
}

// SetResponses queues mock provider responses.
func (h *TestHarness) SetResponses(responses ...*provider.Response) {
	h.Provider.Responses = responses
}

// Events returns a snapshot of the captured events.
func (h *TestHarness) Events() []event.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]event.Event, len(h.events))
	copy(out, h.events)
	return out
}

// AssertEventEmitted checks that an event with the given type was emitted.
func (h *TestHarness) AssertEventEmitted(eventType event.EventType) {
	h.T.Helper()
	if h.EventCount(eventType) == 0 {
		h.T.Errorf("expected event %q to be emitted", eventType)
	}
}

// AssertNoEvent checks that an event type was NOT emitted.
func (h *TestHarness) AssertNoEvent(eventType event.EventType) {
	h.T.Helper()
	if h.EventCount(eventType) > 0 {
		h.T.Errorf("expected event %q NOT to be emitted, but it was", eventType)
	}
}

// EventCount returns the number of events with the given type.
func (h *TestHarness) EventCount(eventType event.EventType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	count := 0
	for _, e := range h.events {
		if e.Type == eventType {
			count++
		}
	}
	return count
}

// eventCapture is a blocking hook that records events.
type eventCapture struct {
	harness *TestHarness
}

func (c *eventCapture) Name() string                 { return "test-capture" }
func (c *eventCapture) Matches(event.EventType) bool { return true } // match all
func (c *eventCapture) IsBlocking() bool             { return true } // sync for tests

func (c *eventCapture) Handle(ev event.Event) error {
	c.harness.mu.Lock()
	c.harness.events = append(c.harness.events, ev)
	c.harness.mu.Unlock()
	return nil
}
