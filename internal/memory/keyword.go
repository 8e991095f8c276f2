package memory

import (
	"sort"
	"strings"
	"unicode"
)

// Keyword scoring weights.
const (
	titlePhraseWeight   = 10
	contentPhraseWeight = 5
	titleTermWeight     = 2
	contentTermWeight   = 1

	// importance / importanceDivisor amplifies the raw score.
	importanceDivisor = 5.0
)

// DefaultKeywordResults is the fallback strategy's default result count.
const DefaultKeywordResults = 3

// KeywordTerms splits a normalized query on whitespace, trims edge
// punctuation, and keeps terms longer than three characters.
func KeywordTerms(query string) []string {
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if len([]rune(f)) > 3 {
			terms = append(terms, f)
		}
	}
	return terms
}

// KeywordScore is the raw in-process relevance of m for query.
func KeywordScore(m Memory, query string, terms []string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}
	title := strings.ToLower(m.Title)
	content := strings.ToLower(m.Content)

	var score float64
	if strings.Contains(title, q) {
		score += titlePhraseWeight
	}
	if strings.Contains(content, q) {
		score += contentPhraseWeight
	}
	for _, t := range terms {
		if strings.Contains(title, t) {
			score += titleTermWeight
		}
		if strings.Contains(content, t) {
			score += contentTermWeight
		}
	}
	return score * float64(m.Importance) / importanceDivisor
}

// maxKeywordScore is the highest raw score reachable for a query with n
// terms, at maximum importance.
func maxKeywordScore(n int) float64 {
	per := titlePhraseWeight + contentPhraseWeight + (titleTermWeight+contentTermWeight)*n
	return float64(per) * MaxImportance / importanceDivisor
}

// KeywordSearch ranks the caller's local memories against query without
// touching the store. Zero-score memories are discarded. The returned Score
// is normalized to 0..100; ordering uses the raw score.
func KeywordSearch(local []Memory, query string, maxResults int) []Memory {
	if maxResults <= 0 {
		maxResults = DefaultKeywordResults
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	terms := KeywordTerms(q)
	ceiling := maxKeywordScore(len(terms))

	type scored struct {
		m   Memory
		raw float64
	}
	var hits []scored
	for _, m := range local {
		if m.Validate() != nil {
			continue
		}
		raw := KeywordScore(m, q, terms)
		if raw <= 0 {
			continue
		}
		m.Score = raw / ceiling * 100
		hits = append(hits, scored{m: m, raw: raw})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].raw > hits[j].raw
	})
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}

	out := make([]Memory, len(hits))
	for i, h := range hits {
		out[i] = h.m
	}
	return out
}
