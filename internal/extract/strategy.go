// Package extract decides whether a conversation turn holds a durable fact
// and commits it to the memory store by title.
package extract

import (
	"context"
	"strings"

	"github.com/cadre-oss/mneme/internal/provider"
)

// RawCandidate is an unvalidated extraction suggestion.
type RawCandidate struct {
	ShouldSave bool    `json:"shouldSave"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
}

// Strategy infers a candidate memory from a message and recent context.
// LLMStrategy and HeuristicStrategy are interchangeable implementations.
type Strategy interface {
	Name() string
	Infer(ctx context.Context, message, recentContext string) (RawCandidate, error)
}

// RecentTurns is how many history turns are rendered as extraction context.
const RecentTurns = 3

// RecentContext renders the last RecentTurns turns as "role: content" lines.
func RecentContext(history []provider.Message) string {
	if len(history) > RecentTurns {
		history = history[len(history)-RecentTurns:]
	}
	lines := make([]string, 0, len(history))
	for _, m := range history {
		lines = append(lines, m.Role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}
