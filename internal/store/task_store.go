package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pagegraph-backend/internal/domain"
	"pagegraph-backend/internal/graph"
	appErrors "pagegraph-backend/pkg/errors"
)

// TaskStore persists submission lifecycle records: Task nodes with URL nodes
// attached via PART_OF edges, so status survives a worker restart.
type TaskStore struct {
	mgr    *graph.Manager
	logger *zap.Logger
}

// NewTaskStore creates the task store.
func NewTaskStore(mgr *graph.Manager, logger *zap.Logger) *TaskStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskStore{mgr: mgr, logger: logger}
}

// CreateTask writes a task and its URL records in the supplied transaction.
// Enqueue registers rollback handlers on the same transaction, so the caller
// owns the commit.
func (s *TaskStore) CreateTask(ctx context.Context, tx *graph.Transaction, task *domain.Task, urls []domain.URLRecord) error {
	_, err := tx.Run(ctx, `
		MERGE (t:Task {id: $id})
		SET t.status = $status,
		    t.progress = $progress,
		    t.message = $message,
		    t.created_at = $created_at`,
		map[string]any{
			"id":         task.ID,
			"status":     string(task.Status),
			"progress":   task.Progress,
			"message":    task.Message,
			"created_at": task.CreatedAt.UTC().Format(time.RFC3339),
		})
	if err != nil {
		return err
	}

	rows := make([]map[string]any, 0, len(urls))
	for _, u := range urls {
		rows = append(rows, map[string]any{
			"url":      u.URL,
			"state":    string(u.State),
			"progress": u.Progress,
		})
	}
	_, err = tx.Run(ctx, `
		MATCH (t:Task {id: $task_id})
		UNWIND $rows AS row
		MERGE (u:URL {url: row.url, task_id: $task_id})
		SET u.state = row.state, u.progress = row.progress
		MERGE (u)-[:PART_OF]->(t)`,
		map[string]any{"task_id": task.ID, "rows": rows})
	return err
}

// UpdateURLState write-through updates one URL's status under a task.
func (s *TaskStore) UpdateURLState(ctx context.Context, record domain.URLRecord) error {
	return s.mgr.Execute(ctx, func(ctx context.Context, tx *graph.Transaction) error {
		params := map[string]any{
			"url":      record.URL,
			"task_id":  record.TaskID,
			"state":    string(record.State),
			"progress": record.Progress,
			"message":  record.Message,
		}
		set := `SET u.state = $state, u.progress = $progress, u.message = $message`
		if record.StartedAt != nil {
			params["started_at"] = record.StartedAt.UTC().Format(time.RFC3339)
			set += ", u.started_at = $started_at"
		}
		if record.CompletedAt != nil {
			params["completed_at"] = record.CompletedAt.UTC().Format(time.RFC3339)
			set += ", u.completed_at = $completed_at"
		}
		_, err := tx.Run(ctx,
			"MATCH (u:URL {url: $url, task_id: $task_id}) "+set, params)
		return err
	})
}

// UpdateTaskStatus persists the aggregated task status.
func (s *TaskStore) UpdateTaskStatus(ctx context.Context, taskID string, status domain.TaskStatus, progress float64, message string) error {
	return s.mgr.Execute(ctx, func(ctx context.Context, tx *graph.Transaction) error {
		_, err := tx.Run(ctx, `
			MATCH (t:Task {id: $id})
			SET t.status = $status, t.progress = $progress, t.message = $message`,
			map[string]any{
				"id":       taskID,
				"status":   string(status),
				"progress": progress,
				"message":  message,
			})
		return err
	})
}

// LoadTask recovers a task and its URL records from the store. Returns a
// not-found error when the task id is unknown, distinct from store failures.
func (s *TaskStore) LoadTask(ctx context.Context, taskID string) (*domain.Task, []domain.URLRecord, error) {
	var task *domain.Task
	var urls []domain.URLRecord

	err := s.mgr.Execute(ctx, func(ctx context.Context, tx *graph.Transaction) error {
		records, err := tx.Run(ctx, `
			MATCH (t:Task {id: $id})
			OPTIONAL MATCH (u:URL)-[:PART_OF]->(t)
			RETURN t.status AS status, t.progress AS progress, t.message AS message,
			       t.created_at AS created_at,
			       u.url AS url, u.state AS state, u.progress AS url_progress,
			       u.message AS url_message, u.started_at AS started_at,
			       u.completed_at AS completed_at`,
			map[string]any{"id": taskID})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		first := asProps(records[0].Keys, records[0].Values)
		task = &domain.Task{
			ID:        taskID,
			Status:    domain.TaskStatus(str(first, "status")),
			Progress:  num(first, "progress"),
			Message:   str(first, "message"),
			CreatedAt: parseTime(first, "created_at"),
		}

		for _, rec := range records {
			props := asProps(rec.Keys, rec.Values)
			url := str(props, "url")
			if url == "" {
				continue
			}
			record := domain.URLRecord{
				URL:      url,
				TaskID:   taskID,
				State:    domain.URLState(str(props, "state")),
				Progress: num(props, "url_progress"),
				Message:  str(props, "url_message"),
			}
			if t := parseTime(props, "started_at"); !t.IsZero() {
				record.StartedAt = &t
			}
			if t := parseTime(props, "completed_at"); !t.IsZero() {
				record.CompletedAt = &t
			}
			urls = append(urls, record)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if task == nil {
		return nil, nil, appErrors.NewNotFound("task " + taskID + " not found")
	}
	return task, urls, nil
}

// asProps zips a record's keys and values into a property map.
func asProps(keys []string, values []any) map[string]any {
	props := make(map[string]any, len(keys))
	for i, k := range keys {
		if i < len(values) {
			props[k] = values[i]
		}
	}
	return props
}
