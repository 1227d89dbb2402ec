// Package store persists the pipeline's aggregates: pages with their keyword
// and relationship edges, sites, and task lifecycle records.
package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pagegraph-backend/internal/domain"
	"pagegraph-backend/internal/graph"
)

// PageStore reconstructs and persists Page aggregates over the graph
// operations layer.
type PageStore struct {
	ops    *graph.Operations
	mgr    *graph.Manager
	logger *zap.Logger
}

// NewPageStore creates the page store.
func NewPageStore(ops *graph.Operations, mgr *graph.Manager, logger *zap.Logger) *PageStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageStore{ops: ops, mgr: mgr, logger: logger}
}

// SavePage persists the page together with its keywords and inter-keyword
// edges in one transaction: the site, the page node, keyword upserts,
// HAS_KEYWORD edges, and relationship edges all commit or none do. Called on
// pipeline success only; failed runs go through SaveErrorPage so a page never
// carries keyword edges from a failed run.
func (s *PageStore) SavePage(ctx context.Context, tx *graph.Transaction, page *domain.Page, keywords []*domain.KeywordIdentifier, relationships []domain.Relationship) error {
	write := func(ctx context.Context, tx *graph.Transaction) error {
		if err := s.upsertSite(ctx, tx, page); err != nil {
			return err
		}
		stored, err := s.upsertPage(ctx, tx, page)
		if err != nil {
			return err
		}
		if err := s.linkSite(ctx, tx, page); err != nil {
			return err
		}
		if err := s.writeKeywords(ctx, tx, page, stored, keywords); err != nil {
			return err
		}
		return s.writeRelationships(ctx, tx, relationships)
	}
	if tx != nil {
		return write(ctx, tx)
	}
	return s.mgr.Execute(ctx, write)
}

// SaveErrorPage persists a failed page record without any keyword edges, and
// drops edges a previous successful run may have left if the page is being
// re-driven.
func (s *PageStore) SaveErrorPage(ctx context.Context, page *domain.Page) error {
	return s.mgr.Execute(ctx, func(ctx context.Context, tx *graph.Transaction) error {
		if err := s.upsertSite(ctx, tx, page); err != nil {
			return err
		}
		if _, err := s.upsertPage(ctx, tx, page); err != nil {
			return err
		}
		if err := s.linkSite(ctx, tx, page); err != nil {
			return err
		}
		_, err := tx.Run(ctx,
			"MATCH (p:Page {url: $url})-[r:HAS_KEYWORD]->() DELETE r",
			map[string]any{"url": page.URL})
		return err
	})
}

func (s *PageStore) upsertSite(ctx context.Context, tx *graph.Transaction, page *domain.Page) error {
	site := domain.NewSite("https", page.Domain)
	_, err := s.ops.CreateOrUpdateNode(ctx, tx,
		[]string{"Site"},
		map[string]any{
			"url":          site.URL,
			"domain":       site.Domain,
			"last_updated": time.Now().UTC().Format(time.RFC3339),
		},
		map[string]any{"url": site.URL})
	return err
}

func (s *PageStore) upsertPage(ctx context.Context, tx *graph.Transaction, page *domain.Page) (*graph.Node, error) {
	return s.ops.CreateOrUpdateNode(ctx, tx,
		[]string{"Page"},
		flattenPage(page),
		map[string]any{"url": page.URL})
}

func (s *PageStore) linkSite(ctx context.Context, tx *graph.Transaction, page *domain.Page) error {
	// MERGE keyed on both endpoints keeps the CONTAINS edge unique across
	// re-submissions.
	_, err := tx.Run(ctx, `
		MATCH (s:Site {url: $site_url})
		MATCH (p:Page {url: $page_url})
		MERGE (s)-[:CONTAINS]->(p)
		WITH s
		SET s.page_count = size([(s)-[:CONTAINS]->(q) | q]),
		    s.active_pages = size([(s)-[:CONTAINS]->(q:Page {status: "active"}) | q])`,
		map[string]any{
			"site_url": fmt.Sprintf("https://%s", page.Domain),
			"page_url": page.URL,
		})
	return err
}

// writeKeywords upserts keyword nodes by their deterministic id and replaces
// the page's HAS_KEYWORD edges with the current set.
func (s *PageStore) writeKeywords(ctx context.Context, tx *graph.Transaction, page *domain.Page, stored *graph.Node, keywords []*domain.KeywordIdentifier) error {
	if len(keywords) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(keywords))
	for _, kw := range keywords {
		rows = append(rows, map[string]any{
			"id":              kw.ID,
			"text":            kw.Canonical,
			"normalized_text": kw.Normalized,
			"keyword_type":    string(kw.Type),
			"variants":        kw.Variants,
			"score":           kw.Score,
			"updated_at":      kw.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	if _, err := tx.Run(ctx, `
		UNWIND $rows AS row
		MERGE (k:Keyword {id: row.id})
		ON CREATE SET k.text = row.text, k.created_at = row.updated_at
		SET k.normalized_text = row.normalized_text,
		    k.keyword_type = row.keyword_type,
		    k.variants = row.variants,
		    k.score = row.score,
		    k.updated_at = row.updated_at`,
		map[string]any{"rows": rows}); err != nil {
		return err
	}

	language := page.Metadata.Language
	if language == "" {
		language = "en"
	}
	edges := make([]graph.RelationshipSpec, 0, len(keywords))
	for _, kw := range keywords {
		edges = append(edges, graph.RelationshipSpec{
			StartID: page.ID,
			EndID:   kw.ID,
			Type:    "HAS_KEYWORD",
			Props: map[string]any{
				"score":    kw.Score,
				"weight":   kw.Score,
				"language": language,
			},
		})
	}
	// stored carries the id actually persisted; a re-submission matches the
	// existing page node, whose id wins over the fresh aggregate's.
	if stored != nil {
		if id, ok := stored.Props["id"].(string); ok && id != "" {
			for i := range edges {
				edges[i].StartID = id
			}
		}
	}
	return s.ops.BatchCreateRelationships(ctx, tx, edges, 0)
}

// writeRelationships persists inter-keyword edges with evidence summaries.
func (s *PageStore) writeRelationships(ctx context.Context, tx *graph.Transaction, relationships []domain.Relationship) error {
	if len(relationships) == 0 {
		return nil
	}
	specs := make([]graph.RelationshipSpec, 0, len(relationships))
	for _, rel := range relationships {
		props := map[string]any{
			"score":          rel.Confidence,
			"confidence":     rel.Confidence,
			"evidence_count": len(rel.Evidence),
		}
		if len(rel.Evidence) > 0 {
			best := rel.Evidence[0]
			for _, ev := range rel.Evidence[1:] {
				if ev.Confidence > best.Confidence {
					best = ev
				}
			}
			props["method"] = best.Method
			if best.Sentence != "" {
				props["sentence"] = best.Sentence
			}
		}
		specs = append(specs, graph.RelationshipSpec{
			StartID: rel.SourceID,
			EndID:   rel.TargetID,
			Type:    relationshipLabel(rel.Type),
			Props:   props,
		})
	}
	return s.ops.BatchCreateRelationships(ctx, tx, specs, 0)
}

// relationshipLabel maps a relationship type to its stored edge label.
func relationshipLabel(t domain.RelationshipType) string {
	switch t {
	case domain.RelationshipSynonym:
		return "SYNONYM"
	case domain.RelationshipRelated:
		return "RELATED"
	case domain.RelationshipHierarchical:
		return "HIERARCHICAL"
	case domain.RelationshipLinksTo:
		return "LINKS_TO"
	case domain.RelationshipSimilarTo:
		return "SIMILAR_TO"
	case domain.RelationshipPrecedes:
		return "PRECEDES"
	case domain.RelationshipReferences:
		return "REFERENCES"
	case domain.RelationshipPartOf:
		return "PART_OF"
	}
	return "RELATED"
}

// ApplyActivation writes the submission-context mutations onto an already
// persisted page: status, browser contexts and ids, visit metrics. The storage
// stage has fully persisted the page by the time this runs, so only the
// activation subset is touched.
func (s *PageStore) ApplyActivation(ctx context.Context, tx *graph.Transaction, page *domain.Page) error {
	write := func(ctx context.Context, tx *graph.Transaction) error {
		_, err := tx.Run(ctx,
			"MATCH (p:Page {url: $url}) SET p += $props",
			map[string]any{"url": page.URL, "props": activationProps(page)})
		return err
	}
	if tx != nil {
		return write(ctx, tx)
	}
	return s.mgr.Execute(ctx, write)
}

// UpdateStatus write-throughs a page's lifecycle state after the pipeline
// settles it.
func (s *PageStore) UpdateStatus(ctx context.Context, url string, status domain.PageStatus) error {
	return s.mgr.Execute(ctx, func(ctx context.Context, tx *graph.Transaction) error {
		_, err := tx.Run(ctx,
			"MATCH (p:Page {url: $url}) SET p.status = $status",
			map[string]any{"url": url, "status": string(status)})
		return err
	})
}

// GetPageByURL loads a page aggregate by its canonical URL, or nil when
// absent.
func (s *PageStore) GetPageByURL(ctx context.Context, url string) (*domain.Page, error) {
	node, err := s.ops.GetNodeByProperty(ctx, nil, "Page", "url", url)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, nil
	}
	return pageFromProps(node.Props), nil
}

// GetPagesByStatus returns pages in the given lifecycle state.
func (s *PageStore) GetPagesByStatus(ctx context.Context, status domain.PageStatus) ([]*domain.Page, error) {
	nodes, err := s.ops.QueryNodes(ctx, nil, "Page", map[string]any{"status": string(status)})
	if err != nil {
		return nil, err
	}
	pages := make([]*domain.Page, 0, len(nodes))
	for _, n := range nodes {
		pages = append(pages, pageFromProps(n.Props))
	}
	return pages, nil
}

// PageKeywords returns the keyword texts and edge scores attached to a page.
func (s *PageStore) PageKeywords(ctx context.Context, url string) (map[string]float64, error) {
	out := make(map[string]float64)
	err := s.mgr.Execute(ctx, func(ctx context.Context, tx *graph.Transaction) error {
		records, err := tx.Run(ctx, `
			MATCH (p:Page {url: $url})-[r:HAS_KEYWORD]->(k:Keyword)
			RETURN k.text AS text, r.score AS score`,
			map[string]any{"url": url})
		if err != nil {
			return err
		}
		for _, rec := range records {
			text, _ := rec.Get("text")
			score, _ := rec.Get("score")
			t, ok := text.(string)
			if !ok {
				continue
			}
			if f, ok := score.(float64); ok {
				out[t] = f
			}
		}
		return nil
	})
	return out, err
}
