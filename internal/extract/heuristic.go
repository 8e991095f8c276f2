package extract

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/cadre-oss/mneme/internal/memory"
)

// Lister supplies the current memories for correction matching.
type Lister interface {
	Read(ctx context.Context) ([]memory.Memory, error)
}

var correctionCues = []string{
	"actually", "wrong", "not", "don't", "instead", "no longer",
	"changed my mind", "i prefer", "i like", "i hate", "now",
}

// newInfoRule maps cue phrases to a title label and importance.
type newInfoRule struct {
	label      string
	importance int
	cues       []string
}

// Checked in order; the first match names the memory.
var newInfoRules = []newInfoRule{
	{"Important note", 8, []string{"remember", "important", "note"}},
	{"User identity", 7, []string{"my name is", "call me", "i am", "i'm", "i work", "i live"}},
	{"User preference", 5, []string{"i prefer", "i like", "i love", "i hate", "favorite"}},
	{"Personal detail", 5, []string{"my"}},
}

// HeuristicStrategy is the degraded, model-free extractor: fixed cue lists
// decide between amending an existing memory and creating a dated one.
type HeuristicStrategy struct {
	memories Lister
	now      func() time.Time
}

// NewHeuristicStrategy creates a heuristic extractor reading existing
// memories from l.
func NewHeuristicStrategy(l Lister) *HeuristicStrategy {
	return &HeuristicStrategy{memories: l, now: time.Now}
}

func (s *HeuristicStrategy) Name() string { return "heuristic" }

func (s *HeuristicStrategy) Infer(ctx context.Context, message, recentContext string) (RawCandidate, error) {
	message = strings.TrimSpace(message)
	if message == "" || strings.HasSuffix(message, "?") {
		// Questions ask about facts rather than state them.
		return noCandidate, nil
	}
	text := normalizeCueText(message)

	if hasAnyCue(text, correctionCues) && s.memories != nil {
		existing, err := s.memories.Read(ctx)
		if err != nil {
			return noCandidate, err
		}
		if m, ok := bestOverlap(existing, message); ok {
			return RawCandidate{
				ShouldSave: true,
				Title:      m.Title,
				Content:    m.Content + "\nUpdated: " + message,
				Importance: float64(min(m.Importance+1, memory.MaxImportance)),
			}, nil
		}
	}

	for _, rule := range newInfoRules {
		if hasAnyCue(text, rule.cues) {
			return RawCandidate{
				ShouldSave: true,
				Title:      fmt.Sprintf("%s (%s)", rule.label, s.now().Format("2006-01-02 15:04")),
				Content:    message,
				Importance: float64(rule.importance),
			}, nil
		}
	}
	return noCandidate, nil
}

// normalizeCueText lowercases s, keeps letters, digits and apostrophes, and
// pads with spaces so cues match on word boundaries.
func normalizeCueText(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '’'
	})
	for i, f := range fields {
		fields[i] = strings.ReplaceAll(f, "’", "'")
	}
	return " " + strings.Join(fields, " ") + " "
}

func hasAnyCue(text string, cues []string) bool {
	for _, c := range cues {
		if strings.Contains(text, " "+c+" ") {
			return true
		}
	}
	return false
}

// contentWords returns the distinct words of s longer than three characters.
func contentWords(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(normalizeCueText(s)) {
		w = strings.Trim(w, "'")
		if len([]rune(w)) > 3 {
			out[w] = true
		}
	}
	return out
}

// bestOverlap picks the memory sharing the most content words with message.
// Ties keep the earlier (more important) memory.
func bestOverlap(memories []memory.Memory, message string) (memory.Memory, bool) {
	msgWords := contentWords(message)
	var best memory.Memory
	bestScore := 0
	for _, m := range memories {
		score := 0
		for w := range contentWords(m.Title + " " + m.Content) {
			if msgWords[w] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = m, score
		}
	}
	return best, bestScore > 0
}
