package event

import "time"

// EventType identifies the kind of memory event.
type EventType string

const (
	// Memory changes
	MemoryAdded   EventType = "memory.added"
	MemoryUpdated EventType = "memory.updated"
	MemoryDeleted EventType = "memory.deleted"
	MemoryCleared EventType = "memory.cleared"

	// Extraction lifecycle
	ExtractionCompleted EventType = "extraction.completed"
	ExtractionFailed    EventType = "extraction.failed"

	// Chat
	ChatReplied EventType = "chat.replied"
)

// MemoryChanges lists the event types that mutate the stored memory set.
var MemoryChanges = []EventType{MemoryAdded, MemoryUpdated, MemoryDeleted, MemoryCleared}

// IsMemoryChange reports whether t mutates the stored memory set.
func IsMemoryChange(t EventType) bool {
	for _, c := range MemoryChanges {
		if c == t {
			return true
		}
	}
	return false
}

// Event carries data about a memory occurrence.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`

	// Source identifies the emitting instance. Remote marks events relayed
	// from another instance; relays never republish them.
	Source string `json:"source,omitempty"`
	Remote bool   `json:"-"`
}

// NewEvent creates an event with the current timestamp.
func NewEvent(t EventType, data map[string]interface{}) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now(),
		Data:      data,
	}
}
