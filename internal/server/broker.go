package server

import (
	"context"
	"sync"
	"time"

	"github.com/cadre-oss/mneme/internal/event"
	"github.com/cadre-oss/mneme/internal/telemetry"
)

// StreamEvent is sent to connected SSE and WebSocket clients.
type StreamEvent struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source,omitempty"`
	Remote    bool        `json:"remote,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Client is a connected stream client.
type Client struct {
	ID     string
	Types  map[event.EventType]bool // empty = subscribe to all
	Events chan StreamEvent
}

func (c *Client) wants(t string) bool {
	return len(c.Types) == 0 || c.Types[event.EventType(t)]
}

// Broker manages stream client connections and broadcasts events.
// It implements event.Hook so it plugs into the memory event bus.
type Broker struct {
	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool
	logger  *telemetry.Logger
}

// NewBroker creates a new broker.
func NewBroker(logger *telemetry.Logger) *Broker {
	return &Broker{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Subscribe adds a new client. The returned Client's Events channel
// receives events until the context is cancelled or the broker closes.
func (b *Broker) Subscribe(ctx context.Context, clientID string, types []event.EventType) *Client {
	client := &Client{
		ID:     clientID,
		Types:  make(map[event.EventType]bool, len(types)),
		Events: make(chan StreamEvent, 64),
	}
	for _, t := range types {
		client.Types[t] = true
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(client.Events)
		return client
	}
	b.clients[clientID] = client
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(clientID)
	}()

	return client
}

func (b *Broker) remove(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[clientID]; ok {
		delete(b.clients, clientID)
		close(c.Events)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends an event to all matching clients.
func (b *Broker) Broadcast(ev StreamEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, client := range b.clients {
		if !client.wants(ev.Type) {
			continue
		}
		select {
		case client.Events <- ev:
		default:
			// Drop if client buffer is full
			b.logger.Warn("Dropping stream event for slow client", "client", client.ID)
		}
	}
}

// Close disconnects every client.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, c := range b.clients {
		delete(b.clients, id)
		close(c.Events)
	}
}

// --- event.Hook interface ---

func (b *Broker) Name() string { return "stream-broker" }

func (b *Broker) Matches(_ event.EventType) bool { return true }

func (b *Broker) IsBlocking() bool { return false }

func (b *Broker) Handle(ev event.Event) error {
	b.Broadcast(StreamEvent{
		Type:      string(ev.Type),
		Timestamp: ev.Timestamp,
		Source:    ev.Source,
		Remote:    ev.Remote,
		Data:      ev.Data,
	})
	return nil
}
