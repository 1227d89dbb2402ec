package keyword

import (
	"regexp"
	"strings"
)

// SentenceSegmenter splits cleaned text into sentences for contextual
// relationship detection.
type SentenceSegmenter interface {
	Segment(text string) []string
}

var sentenceBoundary = regexp.MustCompile(`[.!?]+[\s\n]+|[.!?]+$`)

// RegexSegmenter is the default segmenter, splitting on terminal punctuation.
type RegexSegmenter struct{}

// NewRegexSegmenter creates the default sentence segmenter.
func NewRegexSegmenter() *RegexSegmenter {
	return &RegexSegmenter{}
}

// Segment splits text into trimmed, non-empty sentences.
func (s *RegexSegmenter) Segment(text string) []string {
	parts := sentenceBoundary.Split(text, -1)
	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			sentences = append(sentences, trimmed)
		}
	}
	return sentences
}
