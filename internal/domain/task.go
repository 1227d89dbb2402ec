package domain

import "time"

// TaskStatus is the lifecycle state of one submitted batch of URLs.
type TaskStatus string

const (
	TaskStatusEnqueued   TaskStatus = "enqueued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusError      TaskStatus = "error"
)

// URLState mirrors TaskStatus at the granularity of one URL.
type URLState string

const (
	URLQueued     URLState = "queued"
	URLProcessing URLState = "processing"
	URLCompleted  URLState = "completed"
	URLError      URLState = "error"
)

// TaskResult summarizes what a completed task produced.
type TaskResult struct {
	Keywords   []string
	Sources    []string
	Confidence float64
}

// Task is the persisted lifecycle record of a submission. Tasks live in the
// graph as Task nodes so status survives a worker restart.
type Task struct {
	ID          string
	Status      TaskStatus
	Progress    float64 // 0..1
	Message     string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Result      *TaskResult
}

// URLRecord is the per-URL status attached to a task via PART_OF edges.
type URLRecord struct {
	URL         string
	TaskID      string
	State       URLState
	Progress    float64
	Message     string
	StartedAt   *time.Time
	CompletedAt *time.Time
}
