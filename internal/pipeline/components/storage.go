package components

import (
	"context"

	"go.uber.org/zap"

	"pagegraph-backend/internal/domain"
	"pagegraph-backend/internal/pipeline"
	"pagegraph-backend/internal/store"
	appErrors "pagegraph-backend/pkg/errors"
)

// Storage persists the page aggregate with its keyword and relationship
// edges in one transaction.
type Storage struct {
	pages  *store.PageStore
	logger *zap.Logger
}

// NewStorage creates the storage component.
func NewStorage(pages *store.PageStore, logger *zap.Logger) *Storage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Storage{pages: pages, logger: logger}
}

func (c *Storage) Kind() pipeline.ComponentType { return pipeline.ComponentStorage }
func (c *Storage) Name() string                 { return "storage" }

// Validate checks the page holds together before it is written.
func (c *Storage) Validate(_ context.Context, page *domain.Page) error {
	if page.URL == "" {
		return appErrors.NewValidation("page has no URL")
	}
	return page.Validate()
}

// Process writes the page, its keywords, and their relationship edges
// atomically. Retried by the coordinator on transient store failures; the
// upsert semantics keep retries idempotent.
func (c *Storage) Process(ctx context.Context, page *domain.Page) error {
	keywords, edges := AnalysisOutput(page)
	if err := c.pages.SavePage(ctx, nil, page, keywords, edges); err != nil {
		return err
	}
	c.logger.Debug("page persisted",
		zap.String("url", page.URL),
		zap.Int("keywords", len(keywords)),
		zap.Int("relationships", len(edges)))
	return nil
}
