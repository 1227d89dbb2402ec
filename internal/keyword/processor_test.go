package keyword

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagegraph-backend/internal/domain"
)

func newTestProcessor() *Processor {
	return NewProcessor(NewVariantManager(), NewValidator(), ProcessorConfig{}, nil)
}

func TestProcessKeywordsMergesAcrossExtractors(t *testing.T) {
	p := newTestProcessor()
	groups := [][]domain.RawKeyword{
		{{Text: "graph database", Score: 0.9, Source: "frequency", Frequency: 3}},
		{{Text: "Graph Database", Score: 0.7, Source: "capitalized", Frequency: 1}},
	}

	batch := domain.NewBatchContext()
	out := p.ProcessKeywords(groups, batch)

	require.Len(t, out, 1, "same normalized text must merge into one keyword")
	kw := out[0]
	assert.Equal(t, "graph database", kw.Normalized)
	assert.Contains(t, kw.Variants, "Graph Database")
	assert.Equal(t, []string{kw.ID}, batch.KeywordIDs)
}

func TestProcessKeywordsConfidenceFloor(t *testing.T) {
	p := newTestProcessor()
	groups := [][]domain.RawKeyword{
		{{Text: "weak term", Score: 0.39, Source: "frequency", Frequency: 1}},
	}
	out := p.ProcessKeywords(groups, nil)
	assert.Empty(t, out, "raw scores below 0.4 are discarded before aggregation")
}

func TestProcessKeywordsScoreAggregation(t *testing.T) {
	p := newTestProcessor()
	// Two sources: 0.9 then 0.5, decay weight 1.0 and 0.7.
	// combined_i = 0.6*score + 0.4*1 (frequency term is identically 1).
	// score = (0.94*1.0 + 0.70*0.7) / 1.7 = 0.8411...
	groups := [][]domain.RawKeyword{
		{{Text: "signal", Score: 0.9, Source: "a", Frequency: 2}},
		{{Text: "signal", Score: 0.5, Source: "b", Frequency: 1}},
	}
	out := p.ProcessKeywords(groups, nil)
	require.Len(t, out, 1)
	assert.InDelta(t, 0.8411, out[0].Score, 0.001)
}

func TestProcessKeywordsTypeInference(t *testing.T) {
	p := newTestProcessor()

	t.Run("metadata hint wins", func(t *testing.T) {
		groups := [][]domain.RawKeyword{{{
			Text: "Neo4j", Score: 0.8, Frequency: 1,
			Metadata: map[string]any{"type": "entity"},
		}}}
		out := p.ProcessKeywords(groups, nil)
		require.Len(t, out, 1)
		assert.Equal(t, domain.KeywordTypeEntity, out[0].Type)
	})

	t.Run("long phrases are concepts", func(t *testing.T) {
		groups := [][]domain.RawKeyword{{{
			Text: "large scale graph processing", Score: 0.8, Frequency: 1,
		}}}
		out := p.ProcessKeywords(groups, nil)
		require.Len(t, out, 1)
		assert.Equal(t, domain.KeywordTypeConcept, out[0].Type)
	})

	t.Run("short phrases are terms", func(t *testing.T) {
		groups := [][]domain.RawKeyword{{{
			Text: "graph database", Score: 0.8, Frequency: 1,
		}}}
		out := p.ProcessKeywords(groups, nil)
		require.Len(t, out, 1)
		assert.Equal(t, domain.KeywordTypeTerm, out[0].Type)
	})
}

func TestProcessKeywordsDeterministicIdentity(t *testing.T) {
	p := newTestProcessor()
	groups := [][]domain.RawKeyword{
		{{Text: "machine learning", Score: 0.9, Frequency: 2}},
	}

	first := p.ProcessKeywords(groups, nil)
	second := p.ProcessKeywords(groups, nil)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID,
		"keyword id must be stable across runs for the same (canonical, type)")
	assert.Equal(t, first[0].ID, domain.KeywordID(first[0].Canonical, first[0].Type))
}

func TestUpdateConfigRetunesThreshold(t *testing.T) {
	p := newTestProcessor()
	groups := [][]domain.RawKeyword{
		{{Text: "borderline", Score: 0.55, Frequency: 1}},
	}

	// combined = 0.6*0.55 + 0.4 = 0.73, above the default emit threshold.
	out := p.ProcessKeywords(groups, nil)
	require.Len(t, out, 1)

	p.UpdateConfig(ProcessorConfig{MinKeywordScore: 0.9})
	out = p.ProcessKeywords(groups, nil)
	assert.Empty(t, out, "a reloaded threshold applies to subsequent batches")
}

func TestProcessKeywordsMaxVariants(t *testing.T) {
	p := NewProcessor(NewVariantManager(), NewValidator(), ProcessorConfig{MaxVariants: 2}, nil)
	groups := [][]domain.RawKeyword{
		{
			{Text: "graphs", Score: 0.8, Frequency: 1},
			{Text: "Graphs", Score: 0.7, Frequency: 1},
			{Text: "GRAPHS", Score: 0.6, Frequency: 1},
		},
	}
	out := p.ProcessKeywords(groups, nil)
	require.Len(t, out, 1)
	assert.LessOrEqual(t, len(out[0].Variants), 2)
}
