// Package memory holds the persistent Memory record, its stores, and the
// relevance search strategies that rank stored memories against a query.
package memory

import (
	"math"
	"strings"
	"time"

	mnemeErrors "github.com/cadre-oss/mneme/internal/errors"
)

// Importance bounds.
const (
	MinImportance     = 1
	MaxImportance     = 10
	DefaultImportance = 5
)

// Memory is a durable fact or preference, keyed by case-insensitive title.
type Memory struct {
	Title      string    `json:"title" yaml:"title"`
	Content    string    `json:"content" yaml:"content"`
	Importance int       `json:"importance" yaml:"importance"`
	Score      float64   `json:"score,omitempty" yaml:"-"` // search results only, never persisted
	CreatedAt  time.Time `json:"created_at,omitzero" yaml:"-"`
	UpdatedAt  time.Time `json:"updated_at,omitzero" yaml:"-"`
}

// Patch replaces the non-nil fields of a stored memory.
type Patch struct {
	Title      *string `json:"title,omitempty"`
	Content    *string `json:"content,omitempty"`
	Importance *int    `json:"importance,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Content == nil && p.Importance == nil
}

// Apply returns m with the patch fields replaced.
func (p Patch) Apply(m Memory) Memory {
	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Importance != nil {
		m.Importance = *p.Importance
	}
	return m
}

// Normalize trims title and content and drops the transient score.
func (m Memory) Normalize() Memory {
	m.Title = strings.TrimSpace(m.Title)
	m.Content = strings.TrimSpace(m.Content)
	m.Score = 0
	return m
}

// Validate checks the record invariants.
func (m Memory) Validate() error {
	var problems []string
	if strings.TrimSpace(m.Title) == "" {
		problems = append(problems, "title is required")
	}
	if strings.TrimSpace(m.Content) == "" {
		problems = append(problems, "content is required")
	}
	if m.Importance < MinImportance || m.Importance > MaxImportance {
		problems = append(problems, "importance must be between 1 and 10")
	}
	if len(problems) > 0 {
		return mnemeErrors.Newf(mnemeErrors.CodeValidation, "invalid memory %q: %s", m.Title, strings.Join(problems, "; "))
	}
	return nil
}

// ClampImportance rounds v and clamps it into [1,10].
func ClampImportance(v float64) int {
	if math.IsNaN(v) {
		return DefaultImportance
	}
	n := int(math.Round(v))
	if n < MinImportance {
		return MinImportance
	}
	if n > MaxImportance {
		return MaxImportance
	}
	return n
}

// SameTitle compares titles case-insensitively after trimming.
func SameTitle(a, b string) bool {
	return TitleKey(a) == TitleKey(b)
}

// TitleKey is the canonical lookup key for a title.
func TitleKey(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// FindByTitle returns the memory whose title matches exactly (case-insensitive).
func FindByTitle(memories []Memory, title string) (Memory, bool) {
	for _, m := range memories {
		if SameTitle(m.Title, title) {
			return m, true
		}
	}
	return Memory{}, false
}

// filterValid drops records that fail validation and reports how many were dropped.
func filterValid(in []Memory) ([]Memory, []Memory) {
	valid := make([]Memory, 0, len(in))
	var dropped []Memory
	for _, m := range in {
		if err := m.Validate(); err != nil {
			dropped = append(dropped, m)
			continue
		}
		valid = append(valid, m)
	}
	return valid, dropped
}
