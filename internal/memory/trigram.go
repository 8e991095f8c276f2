package memory

import (
	"strings"
	"unicode"
)

// DefaultSimilarityThreshold matches pg_trgm's default similarity limit.
const DefaultSimilarityThreshold = 0.3

// trigrams returns the pg_trgm style trigram set of s: lowercased
// alphanumeric words, each padded with two leading and one trailing space.
func trigrams(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range words(s) {
		padded := []rune("  " + word + " ")
		for i := 0; i+3 <= len(padded); i++ {
			set[string(padded[i:i+3])] = struct{}{}
		}
	}
	return set
}

// words splits s into lowercase runs of letters and digits.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// TrigramSimilarity is |A∩B| / |A∪B| over trigram sets, as pg_trgm's similarity().
func TrigramSimilarity(a, b string) float64 {
	ta, tb := trigrams(a), trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}

// WordSimilarity is the fraction of the query's trigrams present in text.
// It approximates pg_trgm's word_similarity() for long text fields.
func WordSimilarity(query, text string) float64 {
	tq, tt := trigrams(query), trigrams(text)
	if len(tq) == 0 || len(tt) == 0 {
		return 0
	}
	shared := 0
	for t := range tq {
		if _, ok := tt[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(tq))
}

// fuzzyScore combines title similarity and content word similarity.
func fuzzyScore(query, title, content string) float64 {
	s := TrigramSimilarity(query, title)
	if w := WordSimilarity(query, content); w > s {
		s = w
	}
	return s
}

// searchTerms tokenizes a query for server-side full-text matching:
// alphanumeric words of three or more characters, deduplicated.
func searchTerms(query string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range words(query) {
		if len([]rune(w)) < 3 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
