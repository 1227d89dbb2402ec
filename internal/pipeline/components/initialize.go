// Package components holds the built-in pipeline components: initialization,
// HTML metadata extraction, content cleaning, keyword analysis, and storage.
package components

import (
	"context"
	"strings"

	"pagegraph-backend/internal/domain"
	"pagegraph-backend/internal/pipeline"
	appErrors "pagegraph-backend/pkg/errors"
)

// Initialize prepares a page for the rest of the pipeline and rejects
// domains on the skip list.
type Initialize struct {
	skipDomains map[string]bool
}

// NewInitialize creates the initialize component.
func NewInitialize(skipDomains []string) *Initialize {
	skip := make(map[string]bool, len(skipDomains))
	for _, d := range skipDomains {
		skip[strings.ToLower(d)] = true
	}
	return &Initialize{skipDomains: skip}
}

func (c *Initialize) Kind() pipeline.ComponentType { return pipeline.ComponentCustom }
func (c *Initialize) Name() string                 { return "initialize" }

// Validate rejects pages without a URL and pages on skipped domains.
func (c *Initialize) Validate(_ context.Context, page *domain.Page) error {
	if page.URL == "" {
		return appErrors.NewValidation("page has no URL")
	}
	if c.skipDomains[strings.ToLower(page.Domain)] {
		return appErrors.NewValidationf("domain %s is on the skip list", page.Domain)
	}
	return nil
}

// Process stamps the source type and makes sure the custom map exists before
// later stages write timings into it.
func (c *Initialize) Process(_ context.Context, page *domain.Page) error {
	if page.Metadata.Custom == nil {
		page.Metadata.Custom = make(map[string]any)
	}
	if page.Domain == "localhost" && strings.HasPrefix(page.URL, "file:") {
		page.Metadata.SourceType = "file"
	} else {
		page.Metadata.SourceType = "web"
	}
	return nil
}
