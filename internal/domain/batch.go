package domain

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus tracks one ingest batch through the keyword processor.
type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// BatchContext attributes emitted keywords to the ingest batch that produced
// them and carries per-batch metrics.
type BatchContext struct {
	ID         string
	StartedAt  time.Time
	EndedAt    *time.Time
	KeywordIDs []string
	Status     BatchStatus
	Error      string
}

// NewBatchContext opens a batch context for one processor run.
func NewBatchContext() *BatchContext {
	return &BatchContext{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
		Status:    BatchRunning,
	}
}

// RecordKeyword attributes a produced keyword id to this batch.
func (b *BatchContext) RecordKeyword(id string) {
	b.KeywordIDs = append(b.KeywordIDs, id)
}

// Complete closes the batch successfully.
func (b *BatchContext) Complete() {
	now := time.Now()
	b.EndedAt = &now
	b.Status = BatchCompleted
}

// Fail closes the batch with an error message.
func (b *BatchContext) Fail(msg string) {
	now := time.Now()
	b.EndedAt = &now
	b.Status = BatchFailed
	b.Error = msg
}
