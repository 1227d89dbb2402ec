package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// KeywordType classifies a keyword.
type KeywordType string

const (
	KeywordTypeEntity  KeywordType = "entity"
	KeywordTypeConcept KeywordType = "concept"
	KeywordTypeTerm    KeywordType = "term"
	KeywordTypeCustom  KeywordType = "custom"
)

// keywordNamespace is the fixed UUID namespace for deterministic keyword ids.
// It must never change: keyword identity is a stable hash of (canonical, type)
// so that two extractions of the same term in different documents resolve to
// the same node.
var keywordNamespace = uuid.MustParse("9a1d8f2e-4b7c-4d3a-9e5f-6c8b0a2d4e1f")

// KeywordID derives the deterministic identifier for a canonical text and type.
func KeywordID(canonical string, keywordType KeywordType) string {
	return uuid.NewSHA1(keywordNamespace, []byte(fmt.Sprintf("%s|%s", canonical, keywordType))).String()
}

// KeywordIdentifier is the canonical representation of a term.
type KeywordIdentifier struct {
	ID         string
	Original   string
	Canonical  string
	Normalized string
	Variants   []string
	Type       KeywordType
	Score      float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewKeywordIdentifier constructs a keyword with its deterministic id and the
// canonical-in-variants invariant enforced.
func NewKeywordIdentifier(original, canonical, normalized string, keywordType KeywordType, score float64) *KeywordIdentifier {
	now := time.Now()
	kw := &KeywordIdentifier{
		ID:         KeywordID(canonical, keywordType),
		Original:   original,
		Canonical:  canonical,
		Normalized: normalized,
		Type:       keywordType,
		Score:      score,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	kw.AddVariant(canonical)
	if original != canonical {
		kw.AddVariant(original)
	}
	return kw
}

// AddVariant records an alternate textual form, keeping the set unique.
func (k *KeywordIdentifier) AddVariant(variant string) {
	if variant == "" {
		return
	}
	for _, v := range k.Variants {
		if v == variant {
			return
		}
	}
	k.Variants = append(k.Variants, variant)
}

// HasVariant reports whether the keyword already knows this textual form.
func (k *KeywordIdentifier) HasVariant(variant string) bool {
	for _, v := range k.Variants {
		if v == variant {
			return true
		}
	}
	return false
}

// RawKeyword is the pre-normalization output of one extractor.
type RawKeyword struct {
	Text      string
	Score     float64
	Source    string // extractor name
	Frequency int
	Positions []int
	Metadata  map[string]any
}

// TypeHint returns the explicit keyword type carried in extractor metadata,
// if any.
func (r RawKeyword) TypeHint() (KeywordType, bool) {
	if r.Metadata == nil {
		return "", false
	}
	v, ok := r.Metadata["type"]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case KeywordType:
		return t, true
	case string:
		switch KeywordType(t) {
		case KeywordTypeEntity, KeywordTypeConcept, KeywordTypeTerm, KeywordTypeCustom:
			return KeywordType(t), true
		}
	}
	return "", false
}
