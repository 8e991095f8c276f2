package event

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Bus fans memory events out to hooks.
//
// Blocking hooks run in registration order on the emitting goroutine and
// the first failure is returned to the emitter. Non-blocking hooks each get
// their own goroutine; failures and panics are logged. Drain waits for
// those goroutines. All methods accept a nil *Bus and do nothing.
type Bus struct {
	mu       sync.RWMutex
	hooks    []Hook
	disabled bool
	source   string
	logger   Logger

	// inflight counts running non-blocking deliveries; idle is closed
	// whenever it drops to zero.
	flightMu sync.Mutex
	inflight int
	idle     chan struct{}
}

// Logger is the logging surface the bus needs.
type Logger interface {
	Warn(msg string, keyvals ...interface{})
}

// NewBus creates an enabled bus. logger may be nil.
func NewBus(logger Logger) *Bus {
	return &Bus{logger: logger}
}

// Register adds a hook. Hooks see only events emitted after registration.
func (b *Bus) Register(h Hook) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.hooks = append(b.hooks, h)
	b.mu.Unlock()
}

// Unregister removes every hook named name and reports whether any was
// found.
func (b *Bus) Unregister(name string) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.hooks[:0]
	for _, h := range b.hooks {
		if h.Name() != name {
			kept = append(kept, h)
		}
	}
	removed := len(kept) != len(b.hooks)
	clear(b.hooks[len(kept):])
	b.hooks = kept
	return removed
}

// SetEnabled turns dispatch on or off.
func (b *Bus) SetEnabled(enabled bool) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.disabled = !enabled
	b.mu.Unlock()
}

// SetSource sets the instance id stamped on locally emitted events.
func (b *Bus) SetSource(source string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.source = source
	b.mu.Unlock()
}

// Source returns the instance id stamped on locally emitted events.
func (b *Bus) Source() string {
	if b == nil {
		return ""
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.source
}

// Emit dispatches ev to every matching hook, filling in Source and
// Timestamp when unset.
func (b *Bus) Emit(ev Event) error {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	if b.disabled {
		b.mu.RUnlock()
		return nil
	}
	if ev.Source == "" {
		ev.Source = b.source
	}
	hooks := make([]Hook, 0, len(b.hooks))
	for _, h := range b.hooks {
		if h.Matches(ev.Type) {
			hooks = append(hooks, h)
		}
	}
	b.mu.RUnlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	for _, h := range hooks {
		if !h.IsBlocking() {
			b.begin()
			go b.deliver(h, ev)
			continue
		}
		if err := h.Handle(ev); err != nil {
			return fmt.Errorf("blocking hook %s failed: %w", h.Name(), err)
		}
	}
	return nil
}

func (b *Bus) begin() {
	b.flightMu.Lock()
	if b.inflight == 0 {
		b.idle = make(chan struct{})
	}
	b.inflight++
	b.flightMu.Unlock()
}

func (b *Bus) end() {
	b.flightMu.Lock()
	b.inflight--
	if b.inflight == 0 {
		close(b.idle)
	}
	b.flightMu.Unlock()
}

func (b *Bus) deliver(h Hook, ev Event) {
	defer b.end()
	defer func() {
		if r := recover(); r != nil {
			b.warn("Non-blocking hook panicked", h, ev, "panic", r)
		}
	}()
	if err := h.Handle(ev); err != nil {
		b.warn("Non-blocking hook failed", h, ev, "error", err)
	}
}

func (b *Bus) warn(msg string, h Hook, ev Event, keyvals ...interface{}) {
	if b.logger == nil {
		return
	}
	b.logger.Warn(msg, append([]interface{}{"hook", h.Name(), "event", string(ev.Type)}, keyvals...)...)
}

// Drain waits until no non-blocking delivery is running, or ctx is done.
func (b *Bus) Drain(ctx context.Context) error {
	if b == nil {
		return nil
	}
	b.flightMu.Lock()
	if b.inflight == 0 {
		b.flightMu.Unlock()
		return nil
	}
	idle := b.idle
	b.flightMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
