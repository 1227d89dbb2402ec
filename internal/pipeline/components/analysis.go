package components

import (
	"context"

	"go.uber.org/zap"

	"pagegraph-backend/internal/domain"
	"pagegraph-backend/internal/keyword"
	"pagegraph-backend/internal/pipeline"
	appErrors "pagegraph-backend/pkg/errors"
)

// Custom metadata keys carrying in-memory analysis output between the
// analysis and storage stages. Non-primitive, so never persisted.
const (
	customAnalysisKeywords = "analysis_keywords"
	customAnalysisEdges    = "analysis_relationships"
)

// Analysis runs the keyword engine over the cleaned text: extraction,
// canonical reconciliation, and relationship detection.
type Analysis struct {
	extractors    []keyword.Extractor
	processor     *keyword.Processor
	similarity    keyword.Similarity // optional NLP model
	segmenter     keyword.SentenceSegmenter
	minConfidence float64
	logger        *zap.Logger
}

// NewAnalysis creates the analysis component. similarity may be nil; semantic
// relationship detection is skipped without it.
func NewAnalysis(extractors []keyword.Extractor, processor *keyword.Processor, similarity keyword.Similarity, segmenter keyword.SentenceSegmenter, minConfidence float64, logger *zap.Logger) *Analysis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analysis{
		extractors:    extractors,
		processor:     processor,
		similarity:    similarity,
		segmenter:     segmenter,
		minConfidence: minConfidence,
		logger:        logger,
	}
}

func (c *Analysis) Kind() pipeline.ComponentType { return pipeline.ComponentKeyword }
func (c *Analysis) Name() string                 { return "analysis" }

// Validate requires cleaned text from the content stage.
func (c *Analysis) Validate(_ context.Context, page *domain.Page) error {
	if page.CleanedText == "" && page.Content == "" {
		return appErrors.NewValidation("no text available for analysis")
	}
	return nil
}

// Process extracts and reconciles keywords, detects relationships, and parks
// both on the page for the storage stage. Pages are processed concurrently,
// so the relationship manager is per-run state, never shared.
func (c *Analysis) Process(ctx context.Context, page *domain.Page) error {
	text := page.CleanedText
	if text == "" {
		text = page.Content
	}

	batch := domain.NewBatchContext()
	rawGroups := make([][]domain.RawKeyword, 0, len(c.extractors))
	for _, extractor := range c.extractors {
		if err := ctx.Err(); err != nil {
			batch.Fail(err.Error())
			return err
		}
		rawGroups = append(rawGroups, extractor.Extract(text))
	}

	keywords := c.processor.ProcessKeywords(rawGroups, batch)
	scores := make(map[string]float64, len(keywords))
	for _, kw := range keywords {
		scores[kw.Canonical] = kw.Score
	}
	page.SetKeywords(scores)

	manager := keyword.NewRelationshipManager(c.similarity, c.segmenter, c.logger)
	manager.DetectRelationships(keywords, text, page.ID)
	edges := manager.PrepareForStorage(c.minConfidence)
	page.Relationships = edges
	batch.Complete()

	page.SetCustom(customAnalysisKeywords, keywords)
	page.SetCustom(customAnalysisEdges, edges)
	page.SetCustom("batch_id", batch.ID)

	c.logger.Debug("analysis finished",
		zap.String("url", page.URL),
		zap.Int("keywords", len(keywords)),
		zap.Int("relationships", len(edges)))
	return nil
}

// AnalysisOutput reads the parked analysis results back off the page.
func AnalysisOutput(page *domain.Page) ([]*domain.KeywordIdentifier, []domain.Relationship) {
	var keywords []*domain.KeywordIdentifier
	var edges []domain.Relationship
	if v, ok := page.CustomValue(customAnalysisKeywords); ok {
		if kws, ok := v.([]*domain.KeywordIdentifier); ok {
			keywords = kws
		}
	}
	if v, ok := page.CustomValue(customAnalysisEdges); ok {
		if rels, ok := v.([]domain.Relationship); ok {
			edges = rels
		}
	}
	return keywords, edges
}
