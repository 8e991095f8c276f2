package memory

import (
	"reflect"
	"testing"
)

func TestKeywordTerms(t *testing.T) {
	got := KeywordTerms("  What's my NAME?  dark-mode, ok ")
	want := []string{"what's", "name", "dark-mode"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestKeywordSearch_PetRanksAboveFood(t *testing.T) {
	local := []Memory{
		{Title: "Food", Content: "likes pizza", Importance: 3},
		{Title: "Pet", Content: "owns a cat", Importance: 8},
	}

	results := KeywordSearch(local, "cat", 3)
	if len(results) != 1 {
		t.Fatalf("expected only Pet to score, got %+v", results)
	}
	if results[0].Title != "Pet" || results[0].Score <= 0 {
		t.Errorf("expected Pet with positive score, got %+v", results[0])
	}
	if KeywordScore(local[0], "cat", nil) != 0 {
		t.Error("Food must score zero for 'cat'")
	}
}

func TestKeywordScore_Formula(t *testing.T) {
	m := Memory{Title: "Dark mode", Content: "prefers dark mode everywhere", Importance: 10}
	terms := KeywordTerms("dark mode")
	// phrase in title (10) + phrase in content (5) + "dark" title/content (2+1)
	// + "mode" title/content (2+1) = 21, times 10/5.
	if got := KeywordScore(m, "dark mode", terms); got != 42 {
		t.Errorf("expected 42, got %v", got)
	}

	results := KeywordSearch([]Memory{m}, "dark mode", 3)
	if len(results) != 1 || results[0].Score != 100 {
		t.Errorf("expected a perfect normalized score, got %+v", results)
	}
}

func TestKeywordSearch_ImportanceAmplifies(t *testing.T) {
	local := []Memory{
		{Title: "Coffee", Content: "drinks coffee black", Importance: 2},
		{Title: "Morning coffee", Content: "coffee at seven", Importance: 9},
	}
	results := KeywordSearch(local, "coffee", 3)
	if len(results) != 2 || results[0].Title != "Morning coffee" {
		t.Fatalf("expected higher importance first, got %+v", results)
	}
}

func TestKeywordSearch_LimitsAndSkipsInvalid(t *testing.T) {
	local := []Memory{
		{Title: "a tea", Content: "tea", Importance: 5},
		{Title: "b tea", Content: "tea", Importance: 6},
		{Title: "c tea", Content: "tea", Importance: 7},
		{Title: "d tea", Content: "tea", Importance: 8},
		{Title: "broken tea", Content: "tea", Importance: 99},
	}
	results := KeywordSearch(local, "tea", 0)
	if len(results) != DefaultKeywordResults {
		t.Fatalf("expected default limit %d, got %d", DefaultKeywordResults, len(results))
	}
	for _, r := range results {
		if r.Title == "broken tea" {
			t.Error("invalid memory must not be returned")
		}
	}
	if results[0].Title != "d tea" {
		t.Errorf("expected most important first, got %q", results[0].Title)
	}

	if got := KeywordSearch(local, "   ", 3); got != nil {
		t.Errorf("expected nil for blank query, got %+v", got)
	}
}
