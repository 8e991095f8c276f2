package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cadre-oss/mneme/internal/memory"
	"github.com/cadre-oss/mneme/internal/provider"
)

type staticLister struct {
	memories []memory.Memory
	err      error
}

func (l staticLister) Read(context.Context) ([]memory.Memory, error) {
	return l.memories, l.err
}

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestHeuristic(memories ...memory.Memory) *HeuristicStrategy {
	s := NewHeuristicStrategy(staticLister{memories: memories})
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestHeuristic_NewInfo(t *testing.T) {
	tests := []struct {
		message    string
		title      string
		importance float64
	}{
		{"Remember my dentist appointment is on Tuesday", "Important note (2026-03-14 09:30)", 8},
		{"My name is Alex", "User identity (2026-03-14 09:30)", 7},
		{"I’m a nurse at the city hospital", "User identity (2026-03-14 09:30)", 7},
		{"I love spicy ramen", "User preference (2026-03-14 09:30)", 5},
		{"My favorite color is green", "User preference (2026-03-14 09:30)", 5},
		{"my sister lives in Oslo", "Personal detail (2026-03-14 09:30)", 5},
	}

	s := newTestHeuristic()
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got, err := s.Infer(context.Background(), tt.message, "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.ShouldSave {
				t.Fatal("expected a candidate")
			}
			if got.Title != tt.title {
				t.Errorf("title = %q, want %q", got.Title, tt.title)
			}
			if got.Content != tt.message {
				t.Errorf("content = %q, want the message", got.Content)
			}
			if got.Importance != tt.importance {
				t.Errorf("importance = %v, want %v", got.Importance, tt.importance)
			}
		})
	}
}

func TestHeuristic_NothingToSave(t *testing.T) {
	s := newTestHeuristic()
	for _, msg := range []string{"", "   ", "What's the weather like?", "Tell me a joke",
		"What's my name?", "Do you remember my sister's name?", "Actually, what did I say I prefer?"} {
		got, err := s.Infer(context.Background(), msg, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.ShouldSave {
			t.Errorf("%q: expected nothing to save, got %+v", msg, got)
		}
	}
}

func TestHeuristic_CorrectionAmendsBestMatch(t *testing.T) {
	s := newTestHeuristic(
		memory.Memory{Title: "Food", Content: "User loves pizza", Importance: 4},
		memory.Memory{Title: "Pet", Content: "User has a cat named Whiskers", Importance: 6},
	)

	got, err := s.Infer(context.Background(), "Actually, Whiskers is a dog", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Title != "Pet" {
		t.Fatalf("expected correction of Pet, got %q", got.Title)
	}
	want := "User has a cat named Whiskers\nUpdated: Actually, Whiskers is a dog"
	if got.Content != want {
		t.Errorf("content = %q, want %q", got.Content, want)
	}
	if got.Importance != 7 {
		t.Errorf("importance = %v, want 7", got.Importance)
	}
}

func TestHeuristic_CorrectionCapsImportance(t *testing.T) {
	s := newTestHeuristic(memory.Memory{Title: "Allergy", Content: "Severe peanut allergy", Importance: 10})

	got, err := s.Infer(context.Background(), "Not peanuts, the allergy is to shellfish", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Title != "Allergy" || got.Importance != 10 {
		t.Errorf("expected Allergy capped at 10, got %+v", got)
	}
}

func TestHeuristic_CorrectionWithoutOverlapFallsThrough(t *testing.T) {
	s := newTestHeuristic(memory.Memory{Title: "Pet", Content: "User has a cat named Whiskers", Importance: 6})

	got, err := s.Infer(context.Background(), "Actually I live in Paris", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Title != "User identity (2026-03-14 09:30)" {
		t.Errorf("expected new identity memory, got %q", got.Title)
	}
}

func TestHeuristic_ListerError(t *testing.T) {
	s := NewHeuristicStrategy(staticLister{err: errors.New("disk gone")})
	if _, err := s.Infer(context.Background(), "Actually my name is Sam", ""); err == nil {
		t.Fatal("expected lister error")
	}
}

func TestRecentContext(t *testing.T) {
	history := []provider.Message{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "user", Content: "three"},
		{Role: "assistant", Content: "four"},
	}

	got := RecentContext(history)
	want := "assistant: two\nuser: three\nassistant: four"
	if got != want {
		t.Errorf("RecentContext = %q, want %q", got, want)
	}
	if RecentContext(nil) != "" {
		t.Error("empty history should render empty context")
	}
}
