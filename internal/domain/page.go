// Package domain contains the core aggregates produced and persisted by the
// analysis pipeline: pages, sites, keywords, relationships, and tasks.
package domain

import (
	"time"

	"github.com/google/uuid"

	appErrors "pagegraph-backend/pkg/errors"
)

// PageStatus represents the lifecycle state of a page.
type PageStatus string

const (
	PageStatusDiscovered PageStatus = "discovered"
	PageStatusInProgress PageStatus = "in_progress"
	PageStatusActive     PageStatus = "active"
	PageStatusHistory    PageStatus = "history"
	PageStatusError      PageStatus = "error"
)

// BrowserContext describes how the browser currently holds a page.
type BrowserContext string

const (
	ContextActiveTab  BrowserContext = "active_tab"
	ContextOpenTab    BrowserContext = "open_tab"
	ContextBackground BrowserContext = "background"
	ContextBookmarked BrowserContext = "bookmarked"
	ContextHistory    BrowserContext = "history"
)

// ValidBrowserContext reports whether s names a known browser context.
func ValidBrowserContext(s string) bool {
	switch BrowserContext(s) {
	case ContextActiveTab, ContextOpenTab, ContextBackground, ContextBookmarked, ContextHistory:
		return true
	}
	return false
}

// PageMetadata holds descriptive attributes discovered during processing.
type PageMetadata struct {
	DiscoveredAt       time.Time
	LastAccessed       time.Time
	QualityScore       float64
	BrowserContexts    []BrowserContext
	TabID              string
	WindowID           string
	BookmarkID         string
	Language           string
	Author             string
	SourceType         string
	WordCount          int
	ReadingTimeMinutes float64
	PublishedDate      *time.Time
	ModifiedDate       *time.Time

	// Custom holds arbitrary nested values (component timings, validation
	// results, language maps). Persisted flattened with a custom_ prefix.
	Custom map[string]any
}

// PageMetrics aggregates per-page processing measurements.
type PageMetrics struct {
	QualityScore   float64
	RelevanceScore float64
	VisitCount     int
	ProcessingTime float64 // seconds
	KeywordCount   int
	LastVisited    time.Time
}

// Page is the aggregate the pipeline produces for one URL.
type Page struct {
	ID     string
	URL    string
	Domain string
	Status PageStatus
	Title  string

	// Content is the raw input text/HTML. Transient: never persisted beyond
	// the pipeline run.
	Content string

	// CleanedText is the extracted plain text produced by the content stage.
	// Transient, feeds the analysis stage.
	CleanedText string

	Keywords      map[string]float64 // keyword text -> score in [0,1]
	Relationships []Relationship
	Errors        []string

	Metadata PageMetadata
	Metrics  PageMetrics
}

// NewPage creates a page in the discovered state for a normalized URL.
func NewPage(url, domain string) *Page {
	return &Page{
		ID:       uuid.New().String(),
		URL:      url,
		Domain:   domain,
		Status:   PageStatusDiscovered,
		Keywords: make(map[string]float64),
		Metadata: PageMetadata{
			DiscoveredAt: time.Now(),
			Custom:       make(map[string]any),
		},
	}
}

// MarkError transitions the page to the error state and records the reason.
func (p *Page) MarkError(reason string) {
	p.Status = PageStatusError
	p.Errors = append(p.Errors, reason)
}

// RecordVisit bumps the visit counters. Called for active_tab/open_tab
// contexts when a submission carries one.
func (p *Page) RecordVisit(at time.Time) {
	p.Metrics.VisitCount++
	p.Metrics.LastVisited = at
	p.Metadata.LastAccessed = at
}

// ApplyBrowserContext attaches the submission's browser context and the
// identifiers that only make sense for the current context.
func (p *Page) ApplyBrowserContext(context BrowserContext, tabID, windowID, bookmarkID string) {
	for _, c := range p.Metadata.BrowserContexts {
		if c == context {
			return
		}
	}
	p.Metadata.BrowserContexts = append(p.Metadata.BrowserContexts, context)
	if tabID != "" {
		p.Metadata.TabID = tabID
	}
	if windowID != "" {
		p.Metadata.WindowID = windowID
	}
	if bookmarkID != "" {
		p.Metadata.BookmarkID = bookmarkID
	}
}

// HasContext reports whether the page carries the given browser context.
func (p *Page) HasContext(context BrowserContext) bool {
	for _, c := range p.Metadata.BrowserContexts {
		if c == context {
			return true
		}
	}
	return false
}

// SetKeywords replaces the keyword map and keeps the keyword-count metric in
// sync, preserving the keyword_count == |keywords| invariant.
func (p *Page) SetKeywords(keywords map[string]float64) {
	p.Keywords = keywords
	p.Metrics.KeywordCount = len(keywords)
}

// CustomValue reads a custom metadata entry, initializing the map on first use.
func (p *Page) CustomValue(key string) (any, bool) {
	if p.Metadata.Custom == nil {
		return nil, false
	}
	v, ok := p.Metadata.Custom[key]
	return v, ok
}

// SetCustom writes a custom metadata entry.
func (p *Page) SetCustom(key string, value any) {
	if p.Metadata.Custom == nil {
		p.Metadata.Custom = make(map[string]any)
	}
	p.Metadata.Custom[key] = value
}

// Validate checks the page's structural invariants.
func (p *Page) Validate() error {
	if p.URL == "" {
		return appErrors.NewValidation("page URL cannot be empty")
	}
	if p.Metadata.DiscoveredAt.IsZero() {
		return appErrors.NewValidation("page discovery time is required")
	}
	if p.Metrics.KeywordCount != len(p.Keywords) {
		return appErrors.NewValidationf("keyword count %d does not match keywords %d",
			p.Metrics.KeywordCount, len(p.Keywords))
	}
	if p.Status == PageStatusError && len(p.Errors) == 0 {
		return appErrors.NewValidation("error status requires at least one recorded error")
	}
	if p.HasContext(ContextActiveTab) && p.HasContext(ContextOpenTab) {
		if p.Metadata.TabID == "" || p.Metadata.WindowID == "" {
			return appErrors.NewValidation("tab contexts require tab and window identifiers")
		}
	}
	return nil
}
