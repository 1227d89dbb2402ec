// Package pipeline drives a page through the ordered stage sequence:
// initialize, metadata, content, analysis, storage. Components are pluggable
// per-stage units; the coordinator runs them with timeout and retry, and the
// orchestrator advances pages through stages while emitting events.
package pipeline

import (
	"context"

	"pagegraph-backend/internal/domain"
)

// ComponentType classifies a component for observability.
type ComponentType string

const (
	ComponentMetadata ComponentType = "metadata"
	ComponentContent  ComponentType = "content"
	ComponentKeyword  ComponentType = "keyword"
	ComponentBrowser  ComponentType = "browser"
	ComponentStorage  ComponentType = "storage"
	ComponentCustom   ComponentType = "custom"
)

// Component is one pluggable unit of work registered for a stage.
//
// Validate is a cheap precondition check: it returns a validation error
// explaining why the page cannot be processed, or nil. Process may mutate the
// page in place and perform transactional side effects; it must be safe to
// retry.
type Component interface {
	Kind() ComponentType
	Name() string
	Validate(ctx context.Context, page *domain.Page) error
	Process(ctx context.Context, page *domain.Page) error
}
