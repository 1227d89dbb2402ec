package keyword

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"pagegraph-backend/internal/domain"
)

const (
	// rawConfidenceFloor discards extractor output below this score before
	// aggregation.
	rawConfidenceFloor = 0.4
	// emitThreshold is the minimum aggregated score for a keyword to be
	// emitted.
	emitThreshold = 0.3
	// maxSources bounds how many extractor observations contribute to one
	// keyword's score.
	maxSources = 5
	// sourceDecay is the weight decay applied to the k-th strongest source.
	sourceDecay = 0.7
)

// ProcessorConfig tunes keyword aggregation.
type ProcessorConfig struct {
	MinKeywordScore float64 // overrides emitThreshold when > 0
	MaxVariants     int     // cap on recorded variants per keyword (0 = unlimited)
}

// Processor reconciles raw keywords from multiple extractors into canonical,
// deduplicated, validated KeywordIdentifiers.
type Processor struct {
	variants  *VariantManager
	validator *Validator
	logger    *zap.Logger

	// cfgMu guards cfg, which the config hot-reload path replaces at runtime.
	cfgMu sync.RWMutex
	cfg   ProcessorConfig
}

// UpdateConfig swaps the aggregation tunables; in-flight batches keep the
// snapshot they started with.
func (p *Processor) UpdateConfig(cfg ProcessorConfig) {
	p.cfgMu.Lock()
	p.cfg = cfg
	p.cfgMu.Unlock()
}

func (p *Processor) config() ProcessorConfig {
	p.cfgMu.RLock()
	defer p.cfgMu.RUnlock()
	return p.cfg
}

// NewProcessor creates a keyword processor.
func NewProcessor(variants *VariantManager, validator *Validator, cfg ProcessorConfig, logger *zap.Logger) *Processor {
	if variants == nil {
		variants = NewVariantManager()
	}
	if validator == nil {
		validator = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{variants: variants, validator: validator, cfg: cfg, logger: logger}
}

// ProcessKeywords flattens raw keyword groups across extractors, merges
// variants, aggregates scores, infers types, and emits validated keywords.
// The batch context, when non-nil, is updated with the emitted keyword ids.
func (p *Processor) ProcessKeywords(rawGroups [][]domain.RawKeyword, batch *domain.BatchContext) []*domain.KeywordIdentifier {
	cfg := p.config()

	// Index every raw keyword by its normalized text.
	byNormalized := make(map[string][]domain.RawKeyword)
	order := make([]string, 0)
	for _, group := range rawGroups {
		for _, raw := range group {
			norm := Normalize(raw.Text)
			if norm == "" {
				continue
			}
			if _, seen := byNormalized[norm]; !seen {
				order = append(order, norm)
			}
			byNormalized[norm] = append(byNormalized[norm], raw)
		}
	}

	emitted := make([]*domain.KeywordIdentifier, 0, len(order))
	seenCanonical := make(map[string]bool)

	for _, norm := range order {
		raws := byNormalized[norm]

		// Collect the variant forms observed for this normalized text.
		variants := make([]string, 0, len(raws))
		for _, raw := range raws {
			variants = append(variants, raw.Text)
		}
		canonical := p.variants.CanonicalForm(variants)
		if canonical == "" {
			continue
		}
		keywordType := inferType(raws, canonical)
		canonical = Canonicalize(canonical, keywordType)

		// Extractors frequently emit the same canonical under different
		// normalized forms; the first one wins.
		dedupeKey := strings.ToLower(canonical) + "|" + string(keywordType)
		if seenCanonical[dedupeKey] {
			continue
		}
		seenCanonical[dedupeKey] = true

		threshold := emitThreshold
		if cfg.MinKeywordScore > 0 {
			threshold = cfg.MinKeywordScore
		}
		score, ok := aggregateScore(raws, threshold)
		if !ok {
			continue
		}

		kw := domain.NewKeywordIdentifier(raws[0].Text, canonical, norm, keywordType, score)
		for _, v := range variants {
			if cfg.MaxVariants > 0 && len(kw.Variants) >= cfg.MaxVariants {
				break
			}
			kw.AddVariant(v)
		}

		if err := p.validator.Validate(kw); err != nil {
			p.logger.Debug("dropping invalid keyword",
				zap.String("canonical", canonical),
				zap.Error(err))
			continue
		}

		emitted = append(emitted, kw)
		if batch != nil {
			batch.RecordKeyword(kw.ID)
		}
	}

	return emitted
}

// aggregateScore combines up to maxSources raw observations into one score.
// Raw keywords below the confidence floor are discarded; the remainder are
// sorted by score and combined with a decaying weight per source. The
// frequency term Frequency/max(1, Frequency) evaluates to 1 for any observed
// keyword; it is kept so callers that later supply a corpus-level denominator
// slot in without changing the ordering, which raw score dominates.
func aggregateScore(raws []domain.RawKeyword, threshold float64) (float64, bool) {
	qualified := make([]domain.RawKeyword, 0, len(raws))
	for _, raw := range raws {
		if raw.Score >= rawConfidenceFloor {
			qualified = append(qualified, raw)
		}
	}
	if len(qualified) == 0 {
		return 0, false
	}
	sort.SliceStable(qualified, func(i, j int) bool {
		return qualified[i].Score > qualified[j].Score
	})

	if len(qualified) > maxSources {
		qualified = qualified[:maxSources]
	}

	weightSum := 0.0
	weighted := 0.0
	weight := 1.0
	for _, raw := range qualified {
		frequencyTerm := float64(raw.Frequency) / float64(max(1, raw.Frequency))
		combined := 0.6*raw.Score + 0.4*frequencyTerm
		weighted += combined * weight
		weightSum += weight
		weight *= sourceDecay
	}

	score := weighted / weightSum
	if score < threshold {
		return 0, false
	}
	if score > 1.0 {
		score = 1.0
	}
	return score, true
}

// inferType picks the keyword type: an explicit extractor hint wins; otherwise
// long phrases are concepts and the rest are terms.
func inferType(raws []domain.RawKeyword, canonical string) domain.KeywordType {
	for _, raw := range raws {
		if hint, ok := raw.TypeHint(); ok {
			return hint
		}
	}
	if len(strings.Fields(canonical)) > 2 {
		return domain.KeywordTypeConcept
	}
	return domain.KeywordTypeTerm
}
