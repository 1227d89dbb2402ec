package domain

// RelationshipType names an edge between two keywords.
type RelationshipType string

const (
	RelationshipSynonym      RelationshipType = "synonym"
	RelationshipRelated      RelationshipType = "related"
	RelationshipHierarchical RelationshipType = "hierarchical"
	RelationshipLinksTo      RelationshipType = "links_to"
	RelationshipSimilarTo    RelationshipType = "similar_to"
	// RelationshipPrecedes is declared for forward compatibility; no detector
	// currently produces it.
	RelationshipPrecedes   RelationshipType = "precedes"
	RelationshipReferences RelationshipType = "references"
	RelationshipPartOf     RelationshipType = "part_of"
)

// IsSymmetric reports whether edges of this type are undirected. Symmetric
// edges are stored with endpoints in lexicographic id order so (a,b) and
// (b,a) collapse to one edge.
func (t RelationshipType) IsSymmetric() bool {
	switch t {
	case RelationshipSynonym, RelationshipRelated, RelationshipSimilarTo:
		return true
	}
	return false
}

// maxEvidenceBoost caps how much accumulated evidence can raise confidence
// above the strongest single observation.
const maxEvidenceBoost = 0.5

// RelationshipEvidence is one supporting observation for an edge.
type RelationshipEvidence struct {
	Sentence    string
	SentenceID  int
	SourceStart int
	SourceEnd   int
	TargetStart int
	TargetEnd   int
	Confidence  float64
	Method      string // detection method: semantic, contextual, hierarchical
}

// Relationship is a typed edge between two keywords, aggregated from one or
// more evidence records.
type Relationship struct {
	SourceID   string
	TargetID   string
	Type       RelationshipType
	Confidence float64
	Evidence   []RelationshipEvidence
}

// NewRelationship creates an edge with a first evidence record, canonicalizing
// symmetric endpoints.
func NewRelationship(sourceID, targetID string, relType RelationshipType, ev RelationshipEvidence) *Relationship {
	r := &Relationship{SourceID: sourceID, TargetID: targetID, Type: relType}
	r.AddEvidence(ev)
	// Canonicalize after the evidence lands so its ranges swap with the
	// endpoints.
	r.Canonicalize()
	return r
}

// AddEvidence appends an observation and recomputes confidence. Confidence is
// min(1.0, max evidence confidence + 0.1 per extra observation), with the
// boost capped, so adding evidence never decreases it.
func (r *Relationship) AddEvidence(ev RelationshipEvidence) {
	r.Evidence = append(r.Evidence, ev)
	r.recomputeConfidence()
}

// MergeFrom concatenates another edge's evidence into this one. Caller is
// responsible for only merging edges with identical (source, target, type).
func (r *Relationship) MergeFrom(other *Relationship) {
	r.Evidence = append(r.Evidence, other.Evidence...)
	r.recomputeConfidence()
}

func (r *Relationship) recomputeConfidence() {
	if len(r.Evidence) == 0 {
		r.Confidence = 0
		return
	}
	maxConf := 0.0
	for _, ev := range r.Evidence {
		if ev.Confidence > maxConf {
			maxConf = ev.Confidence
		}
	}
	boost := 0.1 * float64(len(r.Evidence)-1)
	if boost > maxEvidenceBoost {
		boost = maxEvidenceBoost
	}
	conf := maxConf + boost
	if conf > 1.0 {
		conf = 1.0
	}
	r.Confidence = conf
}

// Canonicalize reorders symmetric endpoints so SourceID < TargetID
// lexicographically, swapping evidence character ranges to match.
func (r *Relationship) Canonicalize() {
	if !r.Type.IsSymmetric() || r.SourceID <= r.TargetID {
		return
	}
	r.SourceID, r.TargetID = r.TargetID, r.SourceID
	for i := range r.Evidence {
		ev := &r.Evidence[i]
		ev.SourceStart, ev.TargetStart = ev.TargetStart, ev.SourceStart
		ev.SourceEnd, ev.TargetEnd = ev.TargetEnd, ev.SourceEnd
	}
}

// Key identifies the merge bucket for an edge.
func (r *Relationship) Key() RelationshipKey {
	return RelationshipKey{SourceID: r.SourceID, TargetID: r.TargetID, Type: r.Type}
}

// RelationshipKey is the (source, target, type) identity of an edge.
type RelationshipKey struct {
	SourceID string
	TargetID string
	Type     RelationshipType
}
