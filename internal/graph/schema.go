package graph

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "pagegraph-backend/pkg/errors"
)

// SchemaVersion is the schema revision this build expects. Recorded on a
// SchemaVersion node at bootstrap.
const SchemaVersion = "1.1"

// schemaConstraints are the uniqueness guarantees the store must hold before
// any pipeline write.
var schemaConstraints = []struct {
	name   string
	cypher string
}{
	{"page_url_unique", "CREATE CONSTRAINT page_url_unique IF NOT EXISTS FOR (p:Page) REQUIRE p.url IS UNIQUE"},
	{"site_url_unique", "CREATE CONSTRAINT site_url_unique IF NOT EXISTS FOR (s:Site) REQUIRE s.url IS UNIQUE"},
	{"keyword_id_unique", "CREATE CONSTRAINT keyword_id_unique IF NOT EXISTS FOR (k:Keyword) REQUIRE k.id IS UNIQUE"},
	{"keyword_text_unique", "CREATE CONSTRAINT keyword_text_unique IF NOT EXISTS FOR (k:Keyword) REQUIRE k.text IS UNIQUE"},
}

var schemaIndexes = []struct {
	name   string
	cypher string
}{
	{"page_quality", "CREATE INDEX page_quality IF NOT EXISTS FOR (p:Page) ON (p.metadata_quality_score)"},
	{"page_embedding_status", "CREATE INDEX page_embedding_status IF NOT EXISTS FOR (p:Page) ON (p.embedding_status)"},
	{"keyword_normalized", "CREATE INDEX keyword_normalized IF NOT EXISTS FOR (k:Keyword) ON (k.normalized_text)"},
	{"keyword_type", "CREATE INDEX keyword_type IF NOT EXISTS FOR (k:Keyword) ON (k.keyword_type)"},
	{"has_keyword_weight", "CREATE INDEX has_keyword_weight IF NOT EXISTS FOR ()-[r:HAS_KEYWORD]-() ON (r.weight)"},
	{"has_keyword_score", "CREATE INDEX has_keyword_score IF NOT EXISTS FOR ()-[r:HAS_KEYWORD]-() ON (r.score)"},
}

// Bootstrapper applies constraints, indexes, and the version marker at
// startup. Failures are fatal: the process must not serve traffic against an
// unverified schema.
type Bootstrapper struct {
	manager *Manager
	logger  *zap.Logger
}

// NewBootstrapper creates the schema bootstrapper.
func NewBootstrapper(manager *Manager, logger *zap.Logger) *Bootstrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bootstrapper{manager: manager, logger: logger}
}

// Apply is idempotent: constraints and indexes use IF NOT EXISTS, and the
// version node is merged on its version value.
func (b *Bootstrapper) Apply(ctx context.Context) error {
	// DDL statements cannot share an explicit transaction with data writes,
	// so each runs in its own unit of work.
	for _, c := range schemaConstraints {
		if err := b.run(ctx, c.cypher, nil); err != nil {
			return appErrors.NewSchema(fmt.Sprintf("constraint %s failed", c.name), err)
		}
	}
	for _, idx := range schemaIndexes {
		if err := b.run(ctx, idx.cypher, nil); err != nil {
			return appErrors.NewSchema(fmt.Sprintf("index %s failed", idx.name), err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if err := b.run(ctx, `
		MERGE (v:SchemaVersion {version: $version})
		ON CREATE SET v.timestamp = $now
		MERGE (i:_SchemaInit {id: "singleton"})
		SET i.last_applied = $now, i.version = $version`,
		map[string]any{"version": SchemaVersion, "now": now},
	); err != nil {
		return appErrors.NewSchema("schema version marker failed", err)
	}

	b.logger.Info("schema applied",
		zap.String("version", SchemaVersion),
		zap.Int("constraints", len(schemaConstraints)),
		zap.Int("indexes", len(schemaIndexes)))
	return nil
}

// Verify confirms the recorded schema version matches this build.
func (b *Bootstrapper) Verify(ctx context.Context) error {
	var recorded string
	err := b.manager.Execute(ctx, func(ctx context.Context, tx *Transaction) error {
		records, err := tx.Run(ctx,
			"MATCH (v:SchemaVersion) RETURN v.version AS version ORDER BY v.timestamp DESC LIMIT 1", nil)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		if v, ok := records[0].Get("version"); ok {
			if s, ok := v.(string); ok {
				recorded = s
			}
		}
		return nil
	})
	if err != nil {
		return appErrors.NewSchema("schema version lookup failed", err)
	}
	if recorded == "" {
		return appErrors.NewSchema("schema not initialized", nil)
	}
	if recorded != SchemaVersion {
		return appErrors.NewSchema(
			fmt.Sprintf("schema version mismatch: store has %s, build expects %s", recorded, SchemaVersion), nil)
	}
	return nil
}

func (b *Bootstrapper) run(ctx context.Context, cypher string, params map[string]any) error {
	return b.manager.Execute(ctx, func(ctx context.Context, tx *Transaction) error {
		_, err := tx.Run(ctx, cypher, params)
		return err
	})
}
