package keyword

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagegraph-backend/internal/domain"
)

// fixedSimilarity returns a constant similarity for every pair.
type fixedSimilarity struct{ score float64 }

func (f fixedSimilarity) Similarity(_, _ string) float64 { return f.score }

func kw(canonical string, keywordType domain.KeywordType) *domain.KeywordIdentifier {
	return domain.NewKeywordIdentifier(canonical, canonical, Normalize(canonical), keywordType, 0.8)
}

func TestDetectContextualBestProximity(t *testing.T) {
	rm := NewRelationshipManager(nil, nil, nil)
	keywords := []*domain.KeywordIdentifier{
		kw("neo4j", domain.KeywordTypeEntity),
		kw("graph", domain.KeywordTypeTerm),
	}
	content := "Neo4j is a graph database. Unrelated sentence here. The graph won."

	rm.DetectRelationships(keywords, content, "doc-1")
	edges := rm.PrepareForStorage(0.01)

	require.NotEmpty(t, edges)
	var contextual *domain.Relationship
	for i := range edges {
		for _, ev := range edges[i].Evidence {
			if ev.Method == "contextual" {
				contextual = &edges[i]
			}
		}
	}
	require.NotNil(t, contextual, "expected a contextual edge")
	assert.Equal(t, domain.RelationshipRelated, contextual.Type)

	// The first sentence holds both terms closest together.
	best := contextual.Evidence[0]
	assert.Contains(t, best.Sentence, "Neo4j is a graph database")
	assert.Greater(t, best.Confidence, 0.0)
}

func TestDetectHierarchicalConceptOverTerm(t *testing.T) {
	rm := NewRelationshipManager(nil, nil, nil)
	concept := kw("distributed graph database", domain.KeywordTypeConcept)
	term := kw("graph", domain.KeywordTypeTerm)

	rm.DetectRelationships([]*domain.KeywordIdentifier{concept, term}, "", "doc-1")
	edges := rm.PrepareForStorage(0.01)

	require.NotEmpty(t, edges)
	found := false
	for _, e := range edges {
		if e.Type == domain.RelationshipHierarchical {
			found = true
			assert.Equal(t, concept.ID, e.SourceID)
			assert.Equal(t, term.ID, e.TargetID)
		}
	}
	assert.True(t, found, "concept containing a term must yield a hierarchical edge")
}

func TestDetectSemanticThresholds(t *testing.T) {
	tests := []struct {
		name       string
		similarity float64
		wantType   domain.RelationshipType
		wantEdge   bool
	}{
		{"below related threshold", 0.75, "", false},
		{"related band", 0.85, domain.RelationshipRelated, true},
		{"synonym band", 0.97, domain.RelationshipSynonym, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm := NewRelationshipManager(fixedSimilarity{tt.similarity}, nil, nil)
			keywords := []*domain.KeywordIdentifier{
				kw("alpha", domain.KeywordTypeTerm),
				kw("omega", domain.KeywordTypeTerm),
			}
			rm.DetectRelationships(keywords, "", "doc-1")
			edges := rm.PrepareForStorage(0.01)

			if !tt.wantEdge {
				assert.Empty(t, edges)
				return
			}
			require.Len(t, edges, 1)
			assert.Equal(t, tt.wantType, edges[0].Type)
		})
	}
}

func TestSymmetricEndpointsCanonicalized(t *testing.T) {
	rm := NewRelationshipManager(fixedSimilarity{0.9}, nil, nil)
	a := kw("alpha", domain.KeywordTypeTerm)
	b := kw("omega", domain.KeywordTypeTerm)

	// Feed in both orders; symmetric edges must collapse to one bucket.
	rm.DetectRelationships([]*domain.KeywordIdentifier{a, b}, "", "doc-1")
	rm.DetectRelationships([]*domain.KeywordIdentifier{b, a}, "", "doc-1")
	edges := rm.PrepareForStorage(0.01)

	require.Len(t, edges, 1)
	assert.Less(t, edges[0].SourceID, edges[0].TargetID,
		"symmetric edges persist with source_id < target_id")
	assert.Len(t, edges[0].Evidence, 2, "duplicate edges merge their evidence")
}

func TestRecordSwapsEvidenceRangesOnReorder(t *testing.T) {
	rm := NewRelationshipManager(nil, nil, nil)
	a := kw("alpha", domain.KeywordTypeTerm)
	b := kw("omega", domain.KeywordTypeTerm)
	lo, hi := a, b
	if lo.ID > hi.ID {
		lo, hi = hi, lo
	}

	// Observe the pair with the greater id first; the stored edge must carry
	// the lesser id as source with the evidence ranges following the swap.
	rm.record(hi.ID, lo.ID, domain.RelationshipRelated, domain.RelationshipEvidence{
		SourceStart: 5, SourceEnd: 8,
		TargetStart: 0, TargetEnd: 3,
		Confidence: 0.9, Method: "contextual",
	})
	edges := rm.PrepareForStorage(0.5)

	require.Len(t, edges, 1)
	assert.Equal(t, lo.ID, edges[0].SourceID)
	assert.Equal(t, hi.ID, edges[0].TargetID)
	require.Len(t, edges[0].Evidence, 1)
	ev := edges[0].Evidence[0]
	assert.Equal(t, 0, ev.SourceStart)
	assert.Equal(t, 3, ev.SourceEnd)
	assert.Equal(t, 5, ev.TargetStart)
	assert.Equal(t, 8, ev.TargetEnd)
}

func TestPrepareForStorageThreshold(t *testing.T) {
	rm := NewRelationshipManager(fixedSimilarity{0.85}, nil, nil)
	keywords := []*domain.KeywordIdentifier{
		kw("alpha", domain.KeywordTypeTerm),
		kw("omega", domain.KeywordTypeTerm),
	}
	rm.DetectRelationships(keywords, "", "doc-1")

	assert.Empty(t, rm.PrepareForStorage(0.99), "edges below the threshold are withheld")
	assert.Len(t, rm.PrepareForStorage(0.5), 1)
}

func TestResetClearsAccumulatedEdges(t *testing.T) {
	rm := NewRelationshipManager(fixedSimilarity{0.9}, nil, nil)
	keywords := []*domain.KeywordIdentifier{
		kw("alpha", domain.KeywordTypeTerm),
		kw("omega", domain.KeywordTypeTerm),
	}
	rm.DetectRelationships(keywords, "", "doc-1")
	require.NotEmpty(t, rm.PrepareForStorage(0.01))

	rm.Reset()
	assert.Empty(t, rm.PrepareForStorage(0.01))
}
