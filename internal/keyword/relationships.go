package keyword

import (
	"strings"

	"go.uber.org/zap"

	"pagegraph-backend/internal/domain"
)

const (
	// semanticRelatedThreshold and semanticSynonymThreshold classify pair
	// similarity into edge types.
	semanticRelatedThreshold = 0.80
	semanticSynonymThreshold = 0.95
	// maxSemanticEdgesPerKeyword caps semantic fan-out per keyword.
	maxSemanticEdgesPerKeyword = 5
	// defaultMinEdgeConfidence is the storage threshold for aggregated edges.
	defaultMinEdgeConfidence = 0.5
)

// Similarity computes text similarity in [0,1]. Implementations wrap an NLP
// model; the relationship manager works without one (semantic detection is
// skipped when nil).
type Similarity interface {
	Similarity(a, b string) float64
}

// RelationshipManager detects inter-keyword edges for one document.
type RelationshipManager struct {
	similarity Similarity // optional
	segmenter  SentenceSegmenter
	logger     *zap.Logger

	edges map[domain.RelationshipKey]*domain.Relationship
	docID string
}

// NewRelationshipManager creates a relationship manager. similarity may be
// nil; segmenter defaults to the regex segmenter.
func NewRelationshipManager(similarity Similarity, segmenter SentenceSegmenter, logger *zap.Logger) *RelationshipManager {
	if segmenter == nil {
		segmenter = NewRegexSegmenter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelationshipManager{
		similarity: similarity,
		segmenter:  segmenter,
		logger:     logger,
		edges:      make(map[domain.RelationshipKey]*domain.Relationship),
	}
}

// DetectRelationships runs the semantic, contextual, and hierarchical
// detectors over the keyword list and accumulates merged edges.
func (rm *RelationshipManager) DetectRelationships(keywords []*domain.KeywordIdentifier, content, docID string) {
	if len(keywords) < 2 {
		return
	}
	rm.docID = docID
	rm.detectSemantic(keywords)
	rm.detectContextual(keywords, content)
	rm.detectHierarchical(keywords)
}

// detectSemantic compares every keyword pair through the similarity model,
// skipping pairs once either keyword reaches the fan-out cap.
func (rm *RelationshipManager) detectSemantic(keywords []*domain.KeywordIdentifier) {
	if rm.similarity == nil {
		return
	}
	edgeCount := make(map[string]int)

	for i := 0; i < len(keywords); i++ {
		for j := i + 1; j < len(keywords); j++ {
			src, tgt := keywords[i], keywords[j]
			if edgeCount[src.ID] >= maxSemanticEdgesPerKeyword || edgeCount[tgt.ID] >= maxSemanticEdgesPerKeyword {
				continue
			}
			sim := rm.similarity.Similarity(src.Canonical, tgt.Canonical)
			if sim <= semanticRelatedThreshold {
				continue
			}
			relType := domain.RelationshipRelated
			if sim > semanticSynonymThreshold {
				relType = domain.RelationshipSynonym
			}
			rm.record(src.ID, tgt.ID, relType, domain.RelationshipEvidence{
				Confidence: sim,
				Method:     "semantic",
			})
			edgeCount[src.ID]++
			edgeCount[tgt.ID]++
		}
	}
}

// detectContextual finds sentences containing both canonical texts and records
// the best-proximity sentence as evidence.
func (rm *RelationshipManager) detectContextual(keywords []*domain.KeywordIdentifier, content string) {
	sentences := rm.segmenter.Segment(content)
	if len(sentences) == 0 {
		return
	}
	lowered := make([]string, len(sentences))
	for i, s := range sentences {
		lowered[i] = strings.ToLower(s)
	}

	for i := 0; i < len(keywords); i++ {
		for j := i + 1; j < len(keywords); j++ {
			src, tgt := keywords[i], keywords[j]
			srcText := strings.ToLower(src.Canonical)
			tgtText := strings.ToLower(tgt.Canonical)
			if srcText == tgtText {
				continue
			}

			bestScore := 0.0
			bestIdx := -1
			bestSrcPos, bestTgtPos := 0, 0
			for si, sentence := range lowered {
				srcPos := strings.Index(sentence, srcText)
				tgtPos := strings.Index(sentence, tgtText)
				if srcPos < 0 || tgtPos < 0 {
					continue
				}
				dist := srcPos - tgtPos
				if dist < 0 {
					dist = -dist
				}
				proximity := 1.0 / (float64(dist) + 1.0)
				if proximity > bestScore {
					bestScore = proximity
					bestIdx = si
					bestSrcPos, bestTgtPos = srcPos, tgtPos
				}
			}
			if bestIdx < 0 {
				continue
			}

			rm.record(src.ID, tgt.ID, domain.RelationshipRelated, domain.RelationshipEvidence{
				Sentence:    sentences[bestIdx],
				SentenceID:  bestIdx,
				SourceStart: bestSrcPos,
				SourceEnd:   bestSrcPos + len(srcText),
				TargetStart: bestTgtPos,
				TargetEnd:   bestTgtPos + len(tgtText),
				Confidence:  bestScore,
				Method:      "contextual",
			})
		}
	}
}

// detectHierarchical emits containment edges: a concept containing a term is
// HIERARCHICAL, any other substring pair is RELATED.
func (rm *RelationshipManager) detectHierarchical(keywords []*domain.KeywordIdentifier) {
	for i := 0; i < len(keywords); i++ {
		for j := 0; j < len(keywords); j++ {
			if i == j {
				continue
			}
			src, tgt := keywords[i], keywords[j]
			srcText := strings.ToLower(src.Canonical)
			tgtText := strings.ToLower(tgt.Canonical)
			if srcText == tgtText || !strings.Contains(srcText, tgtText) {
				continue
			}
			relType := domain.RelationshipRelated
			if src.Type == domain.KeywordTypeConcept && tgt.Type == domain.KeywordTypeTerm {
				relType = domain.RelationshipHierarchical
			}
			rm.record(src.ID, tgt.ID, relType, domain.RelationshipEvidence{
				Confidence: 0.6,
				Method:     "hierarchical",
			})
		}
	}
}

// record merges an observation into the accumulated edge set, canonicalizing
// symmetric endpoints first so (a,b) and (b,a) share one bucket.
func (rm *RelationshipManager) record(sourceID, targetID string, relType domain.RelationshipType, ev domain.RelationshipEvidence) {
	rel := domain.NewRelationship(sourceID, targetID, relType, ev)
	if existing, ok := rm.edges[rel.Key()]; ok {
		existing.MergeFrom(rel)
		return
	}
	rm.edges[rel.Key()] = rel
}

// PrepareForStorage returns edges whose aggregated confidence meets the
// threshold, evidence preserved. Pass 0 for the default threshold.
func (rm *RelationshipManager) PrepareForStorage(minConfidence float64) []domain.Relationship {
	if minConfidence <= 0 {
		minConfidence = defaultMinEdgeConfidence
	}
	out := make([]domain.Relationship, 0, len(rm.edges))
	for _, rel := range rm.edges {
		if rel.Confidence >= minConfidence {
			out = append(out, *rel)
		}
	}
	return out
}

// Reset clears accumulated edges so the manager can be reused per document.
func (rm *RelationshipManager) Reset() {
	rm.edges = make(map[domain.RelationshipKey]*domain.Relationship)
	rm.docID = ""
}
