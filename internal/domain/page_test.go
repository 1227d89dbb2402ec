package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPageDefaults(t *testing.T) {
	p := NewPage("https://example.com/a", "example.com")

	assert.Equal(t, PageStatusDiscovered, p.Status)
	assert.NotEmpty(t, p.ID)
	assert.False(t, p.Metadata.DiscoveredAt.IsZero())
	require.NoError(t, p.Validate())
}

func TestPageValidateInvariants(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Page)
		wantErr bool
	}{
		{"valid page", func(p *Page) {}, false},
		{"missing URL", func(p *Page) { p.URL = "" }, true},
		{"missing discovery time", func(p *Page) { p.Metadata.DiscoveredAt = time.Time{} }, true},
		{"keyword count mismatch", func(p *Page) { p.Metrics.KeywordCount = 7 }, true},
		{"error status without errors", func(p *Page) { p.Status = PageStatusError }, true},
		{"error status with errors", func(p *Page) { p.MarkError("boom") }, false},
		{
			"tab contexts without identifiers",
			func(p *Page) {
				p.Metadata.BrowserContexts = []BrowserContext{ContextActiveTab, ContextOpenTab}
			},
			true,
		},
		{
			"tab contexts with identifiers",
			func(p *Page) {
				p.ApplyBrowserContext(ContextActiveTab, "t1", "w1", "")
				p.ApplyBrowserContext(ContextOpenTab, "t1", "w1", "")
			},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPage("https://example.com/a", "example.com")
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSetKeywordsMaintainsCount(t *testing.T) {
	p := NewPage("https://example.com/a", "example.com")
	p.SetKeywords(map[string]float64{"graph": 0.9, "neo4j": 0.8})

	assert.Equal(t, 2, p.Metrics.KeywordCount)
	assert.NoError(t, p.Validate())
}

func TestRecordVisit(t *testing.T) {
	p := NewPage("https://example.com/a", "example.com")
	at := time.Now()
	p.RecordVisit(at)
	p.RecordVisit(at.Add(time.Minute))

	assert.Equal(t, 2, p.Metrics.VisitCount)
	assert.Equal(t, at.Add(time.Minute), p.Metrics.LastVisited)
	assert.Equal(t, at.Add(time.Minute), p.Metadata.LastAccessed)
}

func TestApplyBrowserContextIdempotent(t *testing.T) {
	p := NewPage("https://example.com/a", "example.com")
	p.ApplyBrowserContext(ContextActiveTab, "t1", "w1", "")
	p.ApplyBrowserContext(ContextActiveTab, "t2", "w2", "")

	assert.Len(t, p.Metadata.BrowserContexts, 1, "contexts are a set")
	assert.Equal(t, "t1", p.Metadata.TabID, "first identifiers win on duplicate context")
}
