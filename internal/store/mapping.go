package store

import (
	"fmt"
	"strings"
	"time"

	"pagegraph-backend/internal/domain"
)

// customPrefix flattens nested metadata into prefixed primitive properties.
// The store rejects nested values, so only primitives survive persistence.
const customPrefix = "custom_"

// flattenPage maps a page aggregate to the flat property form the store
// accepts. Absent values are omitted rather than stored as null.
func flattenPage(p *domain.Page) map[string]any {
	props := map[string]any{
		"id":     p.ID,
		"url":    p.URL,
		"domain": p.Domain,
		"status": string(p.Status),
	}
	if p.Title != "" {
		props["title"] = p.Title
	}
	if len(p.Keywords) > 0 {
		// Parallel lists: the store has no map type.
		texts := make([]string, 0, len(p.Keywords))
		scores := make([]float64, 0, len(p.Keywords))
		for text, score := range p.Keywords {
			texts = append(texts, text)
			scores = append(scores, score)
		}
		props["keyword_texts"] = texts
		props["keyword_scores"] = scores
	}

	m := p.Metadata
	props["discovered_at"] = m.DiscoveredAt.UTC().Format(time.RFC3339)
	if !m.LastAccessed.IsZero() {
		props["last_accessed"] = m.LastAccessed.UTC().Format(time.RFC3339)
	}
	props["metadata_quality_score"] = m.QualityScore
	if m.TabID != "" {
		props["tab_id"] = m.TabID
	}
	if m.WindowID != "" {
		props["window_id"] = m.WindowID
	}
	if m.BookmarkID != "" {
		props["bookmark_id"] = m.BookmarkID
	}
	if m.WordCount > 0 {
		props["word_count"] = m.WordCount
	}
	if m.ReadingTimeMinutes > 0 {
		props["reading_time_minutes"] = m.ReadingTimeMinutes
	}
	if m.Language != "" {
		props["language"] = m.Language
	}
	if m.SourceType != "" {
		props["source_type"] = m.SourceType
	}
	if m.Author != "" {
		props["author"] = m.Author
	}
	if m.PublishedDate != nil {
		props["published_date"] = m.PublishedDate.UTC().Format(time.RFC3339)
	}
	if m.ModifiedDate != nil {
		props["modified_date"] = m.ModifiedDate.UTC().Format(time.RFC3339)
	}
	if len(m.BrowserContexts) > 0 {
		contexts := make([]string, 0, len(m.BrowserContexts))
		for _, c := range m.BrowserContexts {
			contexts = append(contexts, string(c))
		}
		props["browser_contexts"] = contexts
	}

	props["metric_quality_score"] = p.Metrics.QualityScore
	props["metric_relevance_score"] = p.Metrics.RelevanceScore
	props["metric_visit_count"] = p.Metrics.VisitCount
	props["metric_keyword_count"] = p.Metrics.KeywordCount
	props["metric_processing_time"] = p.Metrics.ProcessingTime
	if !p.Metrics.LastVisited.IsZero() {
		props["metric_last_visited"] = p.Metrics.LastVisited.UTC().Format(time.RFC3339)
	}

	for key, value := range m.Custom {
		if v, ok := primitive(value); ok {
			props[customPrefix+key] = v
		}
	}
	return props
}

// activationProps is the subset of page properties the submission context
// mutates after the pipeline has run: lifecycle status, browser contexts and
// their ids, and visit metrics. Keyword lists and extraction metadata are
// excluded; those were already written by the storage stage.
func activationProps(p *domain.Page) map[string]any {
	props := map[string]any{
		"status":                 string(p.Status),
		"metric_visit_count":     p.Metrics.VisitCount,
		"metric_processing_time": p.Metrics.ProcessingTime,
	}
	m := p.Metadata
	if !m.LastAccessed.IsZero() {
		props["last_accessed"] = m.LastAccessed.UTC().Format(time.RFC3339)
	}
	if m.TabID != "" {
		props["tab_id"] = m.TabID
	}
	if m.WindowID != "" {
		props["window_id"] = m.WindowID
	}
	if m.BookmarkID != "" {
		props["bookmark_id"] = m.BookmarkID
	}
	if len(m.BrowserContexts) > 0 {
		contexts := make([]string, 0, len(m.BrowserContexts))
		for _, c := range m.BrowserContexts {
			contexts = append(contexts, string(c))
		}
		props["browser_contexts"] = contexts
	}
	if !p.Metrics.LastVisited.IsZero() {
		props["metric_last_visited"] = p.Metrics.LastVisited.UTC().Format(time.RFC3339)
	}
	return props
}

// primitive reports whether a custom value can be stored directly.
func primitive(v any) (any, bool) {
	switch t := v.(type) {
	case string, bool, int, int32, int64, float32, float64:
		return t, true
	case time.Time:
		return t.UTC().Format(time.RFC3339), true
	}
	return nil, false
}

// pageFromProps reconstructs a page aggregate from flattened store properties.
func pageFromProps(props map[string]any) *domain.Page {
	p := &domain.Page{
		ID:       str(props, "id"),
		URL:      str(props, "url"),
		Domain:   str(props, "domain"),
		Status:   domain.PageStatus(str(props, "status")),
		Title:    str(props, "title"),
		Keywords: make(map[string]float64),
		Metadata: domain.PageMetadata{
			DiscoveredAt:       parseTime(props, "discovered_at"),
			LastAccessed:       parseTime(props, "last_accessed"),
			QualityScore:       num(props, "metadata_quality_score"),
			TabID:              str(props, "tab_id"),
			WindowID:           str(props, "window_id"),
			BookmarkID:         str(props, "bookmark_id"),
			Language:           str(props, "language"),
			Author:             str(props, "author"),
			SourceType:         str(props, "source_type"),
			WordCount:          int(num(props, "word_count")),
			ReadingTimeMinutes: num(props, "reading_time_minutes"),
			Custom:             make(map[string]any),
		},
		Metrics: domain.PageMetrics{
			QualityScore:   num(props, "metric_quality_score"),
			RelevanceScore: num(props, "metric_relevance_score"),
			VisitCount:     int(num(props, "metric_visit_count")),
			ProcessingTime: num(props, "metric_processing_time"),
			KeywordCount:   int(num(props, "metric_keyword_count")),
			LastVisited:    parseTime(props, "metric_last_visited"),
		},
	}

	if t := parseTime(props, "published_date"); !t.IsZero() {
		p.Metadata.PublishedDate = &t
	}
	if t := parseTime(props, "modified_date"); !t.IsZero() {
		p.Metadata.ModifiedDate = &t
	}
	for _, c := range strs(props, "browser_contexts") {
		if domain.ValidBrowserContext(c) {
			p.Metadata.BrowserContexts = append(p.Metadata.BrowserContexts, domain.BrowserContext(c))
		}
	}

	texts := strs(props, "keyword_texts")
	scores := nums(props, "keyword_scores")
	for i, text := range texts {
		if i < len(scores) {
			p.Keywords[text] = scores[i]
		}
	}

	for key, value := range props {
		if strings.HasPrefix(key, customPrefix) {
			p.Metadata.Custom[strings.TrimPrefix(key, customPrefix)] = value
		}
	}
	return p
}

func str(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func num(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func parseTime(props map[string]any, key string) time.Time {
	switch v := props[key].(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	case time.Time:
		return v
	}
	return time.Time{}
}

func strs(props map[string]any, key string) []string {
	raw, ok := props[key].([]any)
	if !ok {
		if direct, ok := props[key].([]string); ok {
			return direct
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		out = append(out, fmt.Sprintf("%v", v))
	}
	return out
}

func nums(props map[string]any, key string) []float64 {
	raw, ok := props[key].([]any)
	if !ok {
		if direct, ok := props[key].([]float64); ok {
			return direct
		}
		return nil
	}
	out := make([]float64, 0, len(raw))
	for _, v := range raw {
		switch t := v.(type) {
		case float64:
			out = append(out, t)
		case int64:
			out = append(out, float64(t))
		}
	}
	return out
}
