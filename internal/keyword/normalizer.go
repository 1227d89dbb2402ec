// Package keyword implements the keyword engine: normalization, variant
// management, extraction, scoring, validation, and inter-keyword relationship
// detection over a cleaned text.
package keyword

import (
	"strings"

	"pagegraph-backend/internal/domain"
)

// canonicalSuffixes is the small suffix set stripped during canonicalization
// for basic stem folding.
var canonicalSuffixes = []string{"ian", "ish", "ese", "ic", "al"}

// Normalize lowercases text and collapses all whitespace runs to single
// spaces. Pure function.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Canonicalize derives the canonical form for a text of the given type by
// stripping a small stem-folding suffix set; other inputs are trimmed. Pure
// function.
func Canonicalize(text string, keywordType domain.KeywordType) string {
	trimmed := strings.TrimSpace(text)
	for _, suffix := range canonicalSuffixes {
		if strings.HasSuffix(trimmed, suffix) && len(trimmed) > len(suffix)+2 {
			return strings.TrimSpace(strings.TrimSuffix(trimmed, suffix))
		}
	}
	return trimmed
}
