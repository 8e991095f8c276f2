package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel memory events are fanned out on.
const DefaultRedisChannel = "mneme:events"

// RedisHook publishes events to a Redis channel so other instances can
// resynchronize their local memory caches. Relayed events are skipped.
type RedisHook struct {
	baseHook
	client  redis.UniversalClient
	channel string
}

func NewRedisHook(name string, client redis.UniversalClient, channel string, events []EventType) *RedisHook {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisHook{
		baseHook: baseHook{name: name, events: events, blocking: false},
		client:   client,
		channel:  channel,
	}
}

func (h *RedisHook) Handle(ev Event) error {
	if ev.Remote {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := h.client.Publish(context.Background(), h.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis hook %s failed: %w", h.name, err)
	}
	return nil
}

// RedisRelay subscribes to the event channel and re-emits events published
// by other instances on the local bus.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	bus     *Bus
	logger  Logger
}

func NewRedisRelay(client redis.UniversalClient, channel string, bus *Bus, logger Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisRelay{client: client, channel: channel, bus: bus, logger: logger}
}

// Run blocks relaying events until ctx is cancelled. The subscription is
// confirmed before ready is closed, if ready is non-nil.
func (r *RedisRelay) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.relay(msg.Payload)
		}
	}
}

func (r *RedisRelay) relay(payload string) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		if r.logger != nil {
			r.logger.Warn("Dropping malformed relayed event", "error", err)
		}
		return
	}
	if ev.Source != "" && ev.Source == r.bus.Source() {
		return
	}
	ev.Remote = true
	if err := r.bus.Emit(ev); err != nil && r.logger != nil {
		r.logger.Warn("Relayed event hook failed", "event", string(ev.Type), "error", err)
	}
}
