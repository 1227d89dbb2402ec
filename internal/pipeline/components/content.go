package components

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pagegraph-backend/internal/domain"
	"pagegraph-backend/internal/pipeline"
	appErrors "pagegraph-backend/pkg/errors"
)

// ContentConfig bounds what the content component accepts.
type ContentConfig struct {
	MinContentLength    int
	ComplexDOMThreshold int // element count above which the page is flagged complex
	MaxJSScripts        int // script count above which the page is flagged script-heavy
}

// DefaultContentConfig returns the content defaults.
func DefaultContentConfig() ContentConfig {
	return ContentConfig{
		MinContentLength:    100,
		ComplexDOMThreshold: 5000,
		MaxJSScripts:        50,
	}
}

// Content strips markup down to the cleaned text that feeds analysis.
type Content struct {
	cfg ContentConfig
}

// NewContent creates the content component.
func NewContent(cfg ContentConfig) *Content {
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = DefaultContentConfig().MinContentLength
	}
	return &Content{cfg: cfg}
}

func (c *Content) Kind() pipeline.ComponentType { return pipeline.ComponentContent }
func (c *Content) Name() string                 { return "content" }

// Validate enforces the minimum content length.
func (c *Content) Validate(_ context.Context, page *domain.Page) error {
	if len(page.Content) < c.cfg.MinContentLength {
		return appErrors.NewValidationf("content validation failed: length %d < %d",
			len(page.Content), c.cfg.MinContentLength)
	}
	return nil
}

// Process extracts plain text from the HTML, dropping script and style
// subtrees, and records DOM complexity signals.
func (c *Content) Process(_ context.Context, page *domain.Page) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Content))
	if err != nil {
		// Not HTML: the raw content is already the cleaned text.
		page.CleanedText = collapseWhitespace(page.Content)
		return nil
	}

	scripts := doc.Find("script").Length()
	elements := doc.Find("*").Length()
	if c.cfg.ComplexDOMThreshold > 0 && elements > c.cfg.ComplexDOMThreshold {
		page.SetCustom("complex_dom", true)
	}
	if c.cfg.MaxJSScripts > 0 && scripts > c.cfg.MaxJSScripts {
		page.SetCustom("script_heavy", true)
	}

	doc.Find("script, style, noscript").Remove()
	body := doc.Find("body")
	text := body.Text()
	if strings.TrimSpace(text) == "" {
		text = doc.Text()
	}
	page.CleanedText = collapseWhitespace(text)
	if page.CleanedText == "" {
		page.CleanedText = collapseWhitespace(page.Content)
	}
	if page.Metadata.WordCount == 0 {
		page.Metadata.WordCount = len(strings.Fields(page.CleanedText))
	}
	return nil
}

// collapseWhitespace normalizes runs of whitespace to single spaces, keeping
// sentence punctuation intact for the segmenter.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
