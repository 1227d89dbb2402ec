package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"go.uber.org/zap"
)

// defaultRelationshipBatchSize chunks batched edge writes.
const defaultRelationshipBatchSize = 100

// Node is the stored form of a graph node.
type Node struct {
	ElementID string
	Labels    []string
	Props     map[string]any
}

// RelatedNode is one traversal hit from FindRelatedNodes, ordered by edge
// score descending.
type RelatedNode struct {
	Node     *Node
	Type     string
	Score    float64
	Metadata map[string]any
}

// RelationshipSpec describes one edge for batch creation.
type RelationshipSpec struct {
	StartID string // start node id property
	EndID   string // end node id property
	Type    string
	Props   map[string]any
}

// Operations provides typed node/edge CRUD over the transaction layer. All
// write operations accept an optional transaction; when nil the operation
// opens its own and commits on success.
type Operations struct {
	manager *Manager
	logger  *zap.Logger
}

// NewOperations creates the operations layer.
func NewOperations(manager *Manager, logger *zap.Logger) *Operations {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Operations{manager: manager, logger: logger}
}

// inTx runs fn in the supplied transaction, or opens a dedicated one when tx
// is nil.
func (o *Operations) inTx(ctx context.Context, tx *Transaction, fn func(ctx context.Context, tx *Transaction) error) error {
	if tx != nil {
		return fn(ctx, tx)
	}
	return o.manager.Execute(ctx, fn)
}

// validLabel guards against label injection; Cypher cannot parameterize
// labels or relationship types.
func validLabel(label string) bool {
	if label == "" {
		return false
	}
	for _, r := range label {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

func labelFragment(labels []string) (string, error) {
	if len(labels) == 0 {
		return "", fmt.Errorf("at least one label required")
	}
	var b strings.Builder
	for _, l := range labels {
		if !validLabel(l) {
			return "", fmt.Errorf("invalid label %q", l)
		}
		b.WriteString(":")
		b.WriteString(l)
	}
	return b.String(), nil
}

// nodeFromValue converts a driver node value.
func nodeFromValue(v any) (*Node, bool) {
	node, ok := v.(dbtype.Node)
	if !ok {
		return nil, false
	}
	return &Node{ElementID: node.ElementId, Labels: node.Labels, Props: node.Props}, true
}

// CreateOrUpdateNode upserts a node. With non-empty matchProps the node is
// matched on those properties within the labels and its properties updated;
// otherwise a node is created unconditionally. Returns the stored node.
func (o *Operations) CreateOrUpdateNode(ctx context.Context, tx *Transaction, labels []string, props, matchProps map[string]any) (*Node, error) {
	frag, err := labelFragment(labels)
	if err != nil {
		return nil, NewOperationError("create_or_update_node", map[string]any{"labels": labels}, err)
	}

	var cypher string
	params := map[string]any{"props": props}

	if len(matchProps) > 0 {
		// Deterministic match-clause ordering keeps query plans cacheable.
		keys := make([]string, 0, len(matchProps))
		for k := range matchProps {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		clauses := make([]string, 0, len(keys))
		for i, k := range keys {
			if !validLabel(k) {
				return nil, NewOperationError("create_or_update_node",
					map[string]any{"match_prop": k}, fmt.Errorf("invalid property name"))
			}
			param := fmt.Sprintf("match_%d", i)
			clauses = append(clauses, fmt.Sprintf("%s: $%s", k, param))
			params[param] = matchProps[k]
		}
		cypher = fmt.Sprintf("MERGE (n%s {%s}) SET n += $props RETURN n", frag, strings.Join(clauses, ", "))
	} else {
		cypher = fmt.Sprintf("CREATE (n%s) SET n = $props RETURN n", frag)
	}

	var stored *Node
	err = o.inTx(ctx, tx, func(ctx context.Context, tx *Transaction) error {
		records, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return NewOperationError("create_or_update_node",
				map[string]any{"labels": labels}, fmt.Errorf("no node returned"))
		}
		v, _ := records[0].Get("n")
		node, ok := nodeFromValue(v)
		if !ok {
			return NewOperationError("create_or_update_node",
				map[string]any{"labels": labels}, fmt.Errorf("unexpected return type"))
		}
		stored = node
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// CreateRelationship creates a typed edge between two nodes identified by
// their id properties. Fails with a structured error when either endpoint is
// missing or the type is empty.
func (o *Operations) CreateRelationship(ctx context.Context, tx *Transaction, startID, endID, relType string, props map[string]any) error {
	if relType == "" {
		return NewOperationError("create_relationship",
			map[string]any{"start_id": startID, "end_id": endID}, fmt.Errorf("relationship type is empty"))
	}
	if !validLabel(relType) {
		return NewOperationError("create_relationship",
			map[string]any{"type": relType}, fmt.Errorf("invalid relationship type"))
	}
	if props == nil {
		props = map[string]any{}
	}

	cypher := fmt.Sprintf(`
		MATCH (a {id: $start_id})
		MATCH (b {id: $end_id})
		MERGE (a)-[r:%s]->(b)
		SET r += $props
		RETURN r`, relType)

	return o.inTx(ctx, tx, func(ctx context.Context, tx *Transaction) error {
		records, err := tx.Run(ctx, cypher, map[string]any{
			"start_id": startID,
			"end_id":   endID,
			"props":    props,
		})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			// MATCH found nothing: at least one endpoint does not exist.
			return NewOperationError("create_relationship", map[string]any{
				"start_id": startID,
				"end_id":   endID,
				"type":     relType,
			}, fmt.Errorf("one or both endpoints missing"))
		}
		return nil
	})
}

// GetNodeByID returns the node with the given id property, or nil when absent.
func (o *Operations) GetNodeByID(ctx context.Context, tx *Transaction, id string) (*Node, error) {
	var found *Node
	err := o.inTx(ctx, tx, func(ctx context.Context, tx *Transaction) error {
		records, err := tx.Run(ctx, "MATCH (n {id: $id}) RETURN n LIMIT 1", map[string]any{"id": id})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		v, _ := records[0].Get("n")
		found, _ = nodeFromValue(v)
		return nil
	})
	return found, err
}

// GetNodeByProperty returns the first node with the given label whose property
// equals value, or nil when absent.
func (o *Operations) GetNodeByProperty(ctx context.Context, tx *Transaction, label, name string, value any) (*Node, error) {
	if !validLabel(label) || !validLabel(name) {
		return nil, NewOperationError("get_node_by_property",
			map[string]any{"label": label, "property": name}, fmt.Errorf("invalid identifier"))
	}
	cypher := fmt.Sprintf("MATCH (n:%s {%s: $value}) RETURN n LIMIT 1", label, name)

	var found *Node
	err := o.inTx(ctx, tx, func(ctx context.Context, tx *Transaction) error {
		records, err := tx.Run(ctx, cypher, map[string]any{"value": value})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		v, _ := records[0].Get("n")
		found, _ = nodeFromValue(v)
		return nil
	})
	return found, err
}

// FindRelatedNodes traverses outgoing edges from the start node, filtered by
// an optional type set and minimum edge score, ordered by score descending and
// capped at limit.
func (o *Operations) FindRelatedNodes(ctx context.Context, tx *Transaction, startID string, types []string, minScore float64, limit int) ([]RelatedNode, error) {
	if limit <= 0 {
		limit = 25
	}
	typeFrag := ""
	if len(types) > 0 {
		for _, t := range types {
			if !validLabel(t) {
				return nil, NewOperationError("find_related_nodes",
					map[string]any{"type": t}, fmt.Errorf("invalid relationship type"))
			}
		}
		typeFrag = ":" + strings.Join(types, "|")
	}

	cypher := fmt.Sprintf(`
		MATCH (a {id: $start_id})-[r%s]->(b)
		WHERE coalesce(r.score, 0.0) >= $min_score
		RETURN b, type(r) AS rel_type, coalesce(r.score, 0.0) AS score, properties(r) AS metadata
		ORDER BY score DESC
		LIMIT $limit`, typeFrag)

	var out []RelatedNode
	err := o.inTx(ctx, tx, func(ctx context.Context, tx *Transaction) error {
		records, err := tx.Run(ctx, cypher, map[string]any{
			"start_id":  startID,
			"min_score": minScore,
			"limit":     limit,
		})
		if err != nil {
			return err
		}
		for _, rec := range records {
			nv, _ := rec.Get("b")
			node, ok := nodeFromValue(nv)
			if !ok {
				continue
			}
			relType, _ := rec.Get("rel_type")
			score, _ := rec.Get("score")
			metadata, _ := rec.Get("metadata")
			related := RelatedNode{Node: node}
			if s, ok := relType.(string); ok {
				related.Type = s
			}
			if f, ok := score.(float64); ok {
				related.Score = f
			}
			if m, ok := metadata.(map[string]any); ok {
				related.Metadata = m
			}
			out = append(out, related)
		}
		return nil
	})
	return out, err
}

// QueryNodes returns nodes with the given label matching exact-value property
// conditions.
func (o *Operations) QueryNodes(ctx context.Context, tx *Transaction, label string, conditions map[string]any) ([]*Node, error) {
	if !validLabel(label) {
		return nil, NewOperationError("query_nodes",
			map[string]any{"label": label}, fmt.Errorf("invalid label"))
	}

	params := map[string]any{}
	where := ""
	if len(conditions) > 0 {
		keys := make([]string, 0, len(conditions))
		for k := range conditions {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		clauses := make([]string, 0, len(keys))
		for i, k := range keys {
			if !validLabel(k) {
				return nil, NewOperationError("query_nodes",
					map[string]any{"property": k}, fmt.Errorf("invalid property name"))
			}
			param := fmt.Sprintf("cond_%d", i)
			clauses = append(clauses, fmt.Sprintf("n.%s = $%s", k, param))
			params[param] = conditions[k]
		}
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	cypher := fmt.Sprintf("MATCH (n:%s)%s RETURN n", label, where)

	var out []*Node
	err := o.inTx(ctx, tx, func(ctx context.Context, tx *Transaction) error {
		records, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return err
		}
		for _, rec := range records {
			v, _ := rec.Get("n")
			if node, ok := nodeFromValue(v); ok {
				out = append(out, node)
			}
		}
		return nil
	})
	return out, err
}

// DeleteNodeByID detaches and deletes the node with the given id property.
func (o *Operations) DeleteNodeByID(ctx context.Context, tx *Transaction, id string) error {
	return o.inTx(ctx, tx, func(ctx context.Context, tx *Transaction) error {
		_, err := tx.Run(ctx, "MATCH (n {id: $id}) DETACH DELETE n", map[string]any{"id": id})
		return err
	})
}

// BatchCreateRelationships chunks grouped edge writes. A chunk failure fails
// the whole call, leaving rollback to the enclosing transaction.
func (o *Operations) BatchCreateRelationships(ctx context.Context, tx *Transaction, items []RelationshipSpec, batchSize int) error {
	if batchSize <= 0 {
		batchSize = defaultRelationshipBatchSize
	}

	// Group by relationship type: type cannot be parameterized in Cypher.
	byType := make(map[string][]RelationshipSpec)
	for _, item := range items {
		if item.Type == "" || !validLabel(item.Type) {
			return NewOperationError("batch_create_relationships",
				map[string]any{"type": item.Type}, fmt.Errorf("invalid relationship type"))
		}
		byType[item.Type] = append(byType[item.Type], item)
	}

	return o.inTx(ctx, tx, func(ctx context.Context, tx *Transaction) error {
		for relType, group := range byType {
			cypher := fmt.Sprintf(`
				UNWIND $rows AS row
				MATCH (a {id: row.start_id})
				MATCH (b {id: row.end_id})
				MERGE (a)-[r:%s]->(b)
				SET r += row.props`, relType)

			for start := 0; start < len(group); start += batchSize {
				end := start + batchSize
				if end > len(group) {
					end = len(group)
				}
				rows := make([]map[string]any, 0, end-start)
				for _, item := range group[start:end] {
					props := item.Props
					if props == nil {
						props = map[string]any{}
					}
					rows = append(rows, map[string]any{
						"start_id": item.StartID,
						"end_id":   item.EndID,
						"props":    props,
					})
				}
				if _, err := tx.Run(ctx, cypher, map[string]any{"rows": rows}); err != nil {
					return NewOperationError("batch_create_relationships", map[string]any{
						"type":  relType,
						"chunk": start / batchSize,
						"size":  len(rows),
					}, err)
				}
			}
		}
		return nil
	})
}

// CountNodes returns the number of nodes carrying the label.
func (o *Operations) CountNodes(ctx context.Context, tx *Transaction, label string) (int64, error) {
	if !validLabel(label) {
		return 0, NewOperationError("count_nodes",
			map[string]any{"label": label}, fmt.Errorf("invalid label"))
	}
	var count int64
	err := o.inTx(ctx, tx, func(ctx context.Context, tx *Transaction) error {
		records, err := tx.Run(ctx, fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS c", label), nil)
		if err != nil {
			return err
		}
		if len(records) > 0 {
			if v, ok := records[0].Get("c"); ok {
				if c, ok := v.(int64); ok {
					count = c
				}
			}
		}
		return nil
	})
	return count, err
}
