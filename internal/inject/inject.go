// Package inject prefixes a user message with the stored memories most
// relevant to it, so the chat model sees them as context.
package inject

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cadre-oss/mneme/internal/memory"
	"github.com/cadre-oss/mneme/internal/telemetry"
)

// Prompt prefixes.
const (
	ContextHeader = "ADDITIONAL CONTEXT:"
	NoMemories    = "NO MEMORIES FOUND FOR THIS QUERY."
	UserHeader    = "USER MESSAGE:"
)

// MaxResults caps how many memories are injected per message.
const MaxResults = 5

// Searcher is the search surface the injector needs.
type Searcher interface {
	SearchN(ctx context.Context, query string, local []memory.Memory, n int) ([]memory.Memory, memory.Strategy)
}

// Injector builds augmented messages.
type Injector struct {
	searcher   Searcher
	maxResults int
}

// New creates an injector. maxResults <= 0 or above MaxResults is capped
// at MaxResults.
func New(s Searcher, maxResults int) *Injector {
	if maxResults <= 0 || maxResults > MaxResults {
		maxResults = MaxResults
	}
	return &Injector{searcher: s, maxResults: maxResults}
}

// Inject returns message prefixed with its relevant memories, or with the
// no-memories marker when the search comes back empty.
func (i *Injector) Inject(ctx context.Context, message string, local []memory.Memory) string {
	ctx, span := telemetry.StartSpan(ctx, "memory.inject")
	defer span.End()

	results, strategy := i.searcher.SearchN(ctx, message, local, i.maxResults)
	if len(results) > i.maxResults {
		results = results[:i.maxResults]
	}
	span.SetAttributes(
		attribute.String("search.strategy", string(strategy)),
		attribute.Int("inject.memories", len(results)),
	)
	return Format(message, results)
}

// Format renders the augmented message for a result set.
func Format(message string, results []memory.Memory) string {
	var b strings.Builder
	if len(results) == 0 {
		b.WriteString(NoMemories)
	} else {
		b.WriteString(ContextHeader)
		b.WriteString("\n")
		for n, m := range results {
			if n > 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "Memory: %s\nContent: %s\nImportance: %d/10\nRelevance Score: %d/100",
				m.Title, m.Content, m.Importance, RelevanceScore(m.Score))
		}
	}
	b.WriteString("\n\n")
	b.WriteString(UserHeader)
	b.WriteString("\n")
	b.WriteString(message)
	return b.String()
}

// RelevanceScore rounds a strategy score into 0..100.
func RelevanceScore(score float64) int {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return int(math.Round(score))
}
