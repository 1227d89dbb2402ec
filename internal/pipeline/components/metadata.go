package components

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"pagegraph-backend/internal/domain"
	"pagegraph-backend/internal/pipeline"
	appErrors "pagegraph-backend/pkg/errors"
)

// wordsPerMinute converts word counts into reading-time estimates.
const wordsPerMinute = 200.0

// Metadata extracts document metadata from the raw HTML: title, author,
// language, published/modified dates, and a quality score.
type Metadata struct{}

// NewMetadata creates the metadata component.
func NewMetadata() *Metadata { return &Metadata{} }

func (c *Metadata) Kind() pipeline.ComponentType { return pipeline.ComponentMetadata }
func (c *Metadata) Name() string                 { return "metadata" }

// Validate only requires that content arrived; length checks belong to the
// content stage.
func (c *Metadata) Validate(_ context.Context, page *domain.Page) error {
	if page.Content == "" {
		return appErrors.NewValidation("no content to extract metadata from")
	}
	return nil
}

// Process parses the HTML and fills the page metadata. Non-HTML input
// degrades to a first-line title.
func (c *Metadata) Process(_ context.Context, page *domain.Page) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Content))
	if err != nil {
		// Plain text: first line stands in for the title.
		if line, _, _ := strings.Cut(strings.TrimSpace(page.Content), "\n"); line != "" {
			page.Title = truncate(line, 200)
		}
		return nil
	}

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		page.Title = title
	} else if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		page.Title = h1
	}

	if lang, ok := doc.Find("html").Attr("lang"); ok {
		if base, _, found := strings.Cut(lang, "-"); found {
			page.Metadata.Language = base
		} else {
			page.Metadata.Language = lang
		}
	}
	if author := metaContent(doc, "author"); author != "" {
		page.Metadata.Author = author
	}
	if published := metaProperty(doc, "article:published_time"); published != "" {
		if t, err := time.Parse(time.RFC3339, published); err == nil {
			page.Metadata.PublishedDate = &t
		}
	}
	if modified := metaProperty(doc, "article:modified_time"); modified != "" {
		if t, err := time.Parse(time.RFC3339, modified); err == nil {
			page.Metadata.ModifiedDate = &t
		}
	}

	words := len(strings.Fields(doc.Text()))
	if words == 0 {
		words = len(strings.Fields(page.Content))
	}
	page.Metadata.WordCount = words
	page.Metadata.ReadingTimeMinutes = float64(words) / wordsPerMinute
	page.Metadata.QualityScore = qualityScore(page, doc)
	return nil
}

func metaContent(doc *goquery.Document, name string) string {
	content, _ := doc.Find(`meta[name="` + name + `"]`).Attr("content")
	return strings.TrimSpace(content)
}

func metaProperty(doc *goquery.Document, property string) string {
	content, _ := doc.Find(`meta[property="` + property + `"]`).Attr("content")
	return strings.TrimSpace(content)
}

// qualityScore is a heuristic in [0,1] rewarding titled, structured, longer
// documents.
func qualityScore(page *domain.Page, doc *goquery.Document) float64 {
	score := 0.2
	if page.Title != "" {
		score += 0.2
	}
	if metaContent(doc, "description") != "" {
		score += 0.1
	}
	if doc.Find("h1, h2, h3").Length() > 0 {
		score += 0.2
	}
	switch {
	case page.Metadata.WordCount >= 500:
		score += 0.3
	case page.Metadata.WordCount >= 100:
		score += 0.2
	case page.Metadata.WordCount > 0:
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
