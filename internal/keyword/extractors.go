package keyword

import (
	"sort"
	"strings"
	"unicode"

	"pagegraph-backend/internal/domain"
)

// Extractor is a strategy producing raw keywords from cleaned text. Each
// extractor returns weighted terms; the processor reconciles them across
// extractors into canonical keywords.
type Extractor interface {
	Name() string
	Extract(text string) []domain.RawKeyword
}

// ExtractorConfig bounds what the built-in extractors emit.
type ExtractorConfig struct {
	MinChars       int     // minimum characters per term
	MaxWords       int     // maximum words per term
	MinFrequency   int     // minimum occurrences in the document
	ScoreThreshold float64 // minimum score to emit
}

// DefaultExtractorConfig returns the consolidated extractor defaults.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		MinChars:       3,
		MaxWords:       4,
		MinFrequency:   1,
		ScoreThreshold: 0.3,
	}
}

// stopWords contains common words filtered out during keyword extraction.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true,
	"and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "up": true, "about": true,
	"into": true, "through": true, "during": true, "before": true, "after": true,
	"above": true, "below": true, "between": true, "under": true,
	"again": true, "further": true, "then": true, "once": true,
	"is": true, "am": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true, "did": true,
	"will": true, "would": true, "should": true, "could": true, "ought": true,
	"i": true, "me": true, "my": true, "myself": true,
	"we": true, "our": true, "ours": true, "ourselves": true,
	"you": true, "your": true, "yours": true, "yourself": true,
	"he": true, "him": true, "his": true, "himself": true,
	"she": true, "her": true, "hers": true, "herself": true,
	"it": true, "its": true, "itself": true,
	"they": true, "them": true, "their": true, "theirs": true,
	"what": true, "which": true, "who": true, "whom": true,
	"this": true, "that": true, "these": true, "those": true,
	"as": true, "if": true, "each": true, "how": true, "than": true,
	"too": true, "very": true, "can": true, "just": true, "also": true,
	"not": true, "no": true, "so": true, "such": true, "there": true,
}

// tokenize splits text into lowercase word tokens, keeping positions.
func tokenize(text string) []string {
	var tokens []string
	var current strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
		} else if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

// FrequencyExtractor scores candidate phrases by their relative frequency in
// the document. It emits unigrams and bigrams of non-stop words.
type FrequencyExtractor struct {
	cfg ExtractorConfig
}

// NewFrequencyExtractor creates a frequency extractor.
func NewFrequencyExtractor(cfg ExtractorConfig) *FrequencyExtractor {
	return &FrequencyExtractor{cfg: cfg}
}

// Name identifies the extractor in RawKeyword.Source.
func (e *FrequencyExtractor) Name() string { return "frequency" }

// Extract returns weighted terms from the text.
func (e *FrequencyExtractor) Extract(text string) []domain.RawKeyword {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	type candidate struct {
		frequency int
		positions []int
	}
	candidates := make(map[string]*candidate)

	add := func(term string, pos int) {
		c, ok := candidates[term]
		if !ok {
			c = &candidate{}
			candidates[term] = c
		}
		c.frequency++
		c.positions = append(c.positions, pos)
	}

	for i, tok := range tokens {
		if stopWords[tok] || len(tok) < e.cfg.MinChars {
			continue
		}
		add(tok, i)
		// Bigram of two adjacent non-stop words.
		if e.cfg.MaxWords >= 2 && i+1 < len(tokens) {
			next := tokens[i+1]
			if !stopWords[next] && len(next) >= e.cfg.MinChars {
				add(tok+" "+next, i)
			}
		}
	}

	maxFreq := 0
	for _, c := range candidates {
		if c.frequency > maxFreq {
			maxFreq = c.frequency
		}
	}
	if maxFreq == 0 {
		return nil
	}

	var out []domain.RawKeyword
	for term, c := range candidates {
		if c.frequency < e.cfg.MinFrequency {
			continue
		}
		// Relative frequency, with multi-word terms favored slightly since a
		// repeated phrase is a stronger signal than a repeated word.
		score := float64(c.frequency) / float64(maxFreq)
		if strings.Contains(term, " ") {
			score = score*0.8 + 0.2
		}
		if score < e.cfg.ScoreThreshold {
			continue
		}
		out = append(out, domain.RawKeyword{
			Text:      term,
			Score:     score,
			Source:    e.Name(),
			Frequency: c.frequency,
			Positions: c.positions,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// CapitalizedPhraseExtractor emits proper-noun-like phrases (runs of
// capitalized words) as entity candidates.
type CapitalizedPhraseExtractor struct {
	cfg ExtractorConfig
}

// NewCapitalizedPhraseExtractor creates a capitalized-phrase extractor.
func NewCapitalizedPhraseExtractor(cfg ExtractorConfig) *CapitalizedPhraseExtractor {
	return &CapitalizedPhraseExtractor{cfg: cfg}
}

// Name identifies the extractor in RawKeyword.Source.
func (e *CapitalizedPhraseExtractor) Name() string { return "capitalized" }

// Extract returns capitalized phrases tagged as entities.
func (e *CapitalizedPhraseExtractor) Extract(text string) []domain.RawKeyword {
	words := strings.Fields(text)

	type candidate struct {
		frequency int
		positions []int
	}
	candidates := make(map[string]*candidate)

	var run []string
	runStart := 0
	flush := func() {
		if len(run) == 0 {
			return
		}
		phrase := strings.Join(run, " ")
		run = nil
		if len(phrase) < e.cfg.MinChars || len(strings.Fields(phrase)) > e.cfg.MaxWords {
			return
		}
		if stopWords[strings.ToLower(phrase)] {
			return
		}
		c, ok := candidates[phrase]
		if !ok {
			c = &candidate{}
			candidates[phrase] = c
		}
		c.frequency++
		c.positions = append(c.positions, runStart)
	}

	for i, w := range words {
		trimmed := strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if trimmed == "" {
			flush()
			continue
		}
		first := []rune(trimmed)[0]
		// Sentence-initial words are ambiguous; only mid-run capitals count,
		// so a run keeps growing once started.
		if unicode.IsUpper(first) {
			if len(run) == 0 {
				runStart = i
			}
			run = append(run, trimmed)
		} else {
			flush()
		}
		if strings.ContainsAny(w, ".!?") {
			flush()
		}
	}
	flush()

	var out []domain.RawKeyword
	for phrase, c := range candidates {
		if c.frequency < e.cfg.MinFrequency {
			continue
		}
		// Entities are high-precision candidates; repeated mentions raise the
		// score toward 1.
		score := 0.6 + 0.1*float64(c.frequency)
		if score > 1.0 {
			score = 1.0
		}
		if score < e.cfg.ScoreThreshold {
			continue
		}
		out = append(out, domain.RawKeyword{
			Text:      phrase,
			Score:     score,
			Source:    e.Name(),
			Frequency: c.frequency,
			Positions: c.positions,
			Metadata:  map[string]any{"type": string(domain.KeywordTypeEntity)},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
