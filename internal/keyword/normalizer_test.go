package keyword

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pagegraph-backend/internal/domain"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases", "Machine Learning", "machine learning"},
		{"collapses internal whitespace", "graph\t  database", "graph database"},
		{"trims edges", "  neo4j  ", "neo4j"},
		{"newlines collapse", "a\nb\n\nc", "a b c"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"strips -ian", "Canadian", "Canad"},
		{"strips -ish", "greenish", "green"},
		{"strips -ese", "Japanese", "Japan"},
		{"strips -ic", "metallic", "metall"},
		{"strips -al", "chemical", "chemic"},
		{"strips -ic from basic", "basic", "bas"},
		{"no suffix", "graph", "graph"},
		{"trims", "  graph  ", "graph"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonicalize(tt.input, domain.KeywordTypeTerm))
		})
	}
}

func TestCanonicalizeShortWordsNotStripped(t *testing.T) {
	// A word whose remainder would be shorter than suffix+2 keeps its suffix.
	assert.Equal(t, "ish", Canonicalize("ish", domain.KeywordTypeTerm))
	assert.Equal(t, "tic", Canonicalize("tic", domain.KeywordTypeTerm))
}
