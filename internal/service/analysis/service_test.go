package analysis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pagegraph-backend/internal/domain"
	"pagegraph-backend/internal/graph"
	appErrors "pagegraph-backend/pkg/errors"
)

// fakeTaskStore is a scriptable TaskStore.
type fakeTaskStore struct {
	mu      sync.Mutex
	created int
	loads   int
	task    *domain.Task
	records []domain.URLRecord
	updates []domain.URLRecord
}

func (f *fakeTaskStore) CreateTask(context.Context, *graph.Transaction, *domain.Task, []domain.URLRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return nil
}

func (f *fakeTaskStore) UpdateURLState(_ context.Context, record domain.URLRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, record)
	return nil
}

func (f *fakeTaskStore) LoadTask(_ context.Context, taskID string) (*domain.Task, []domain.URLRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.task == nil {
		return nil, nil, appErrors.NewNotFound("task " + taskID + " not found")
	}
	return f.task, f.records, nil
}

func rec(url string, state domain.URLState, progress float64, message string) domain.URLRecord {
	return domain.URLRecord{URL: url, TaskID: "t1", State: state, Progress: progress, Message: message}
}

func TestAggregateStatusRules(t *testing.T) {
	tests := []struct {
		name       string
		records    []domain.URLRecord
		wantStatus string
		wantError  string
	}{
		{
			"error wins with the first error message",
			[]domain.URLRecord{
				rec("a", domain.URLCompleted, 1, ""),
				rec("b", domain.URLError, 0, "analysis timed out after 1s"),
				rec("c", domain.URLError, 0, "rolled back"),
			},
			string(domain.TaskStatusError),
			"analysis timed out after 1s",
		},
		{
			"all completed",
			[]domain.URLRecord{
				rec("a", domain.URLCompleted, 1, ""),
				rec("b", domain.URLCompleted, 1, ""),
			},
			string(domain.TaskStatusCompleted),
			"",
		},
		{
			"any processing",
			[]domain.URLRecord{
				rec("a", domain.URLCompleted, 1, ""),
				rec("b", domain.URLProcessing, 0.1, ""),
				rec("c", domain.URLQueued, 0, ""),
			},
			string(domain.TaskStatusProcessing),
			"",
		},
		{
			"all queued",
			[]domain.URLRecord{
				rec("a", domain.URLQueued, 0, ""),
				rec("b", domain.URLQueued, 0, ""),
			},
			"queued",
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := aggregate("t1", tt.records)
			assert.Equal(t, tt.wantStatus, view.Status)
			assert.Equal(t, tt.wantError, view.Error)
			assert.Equal(t, len(tt.records), view.URLCount)
		})
	}
}

func TestAggregateProgressIsMean(t *testing.T) {
	view := aggregate("t1", []domain.URLRecord{
		rec("a", domain.URLCompleted, 1, ""),
		rec("b", domain.URLProcessing, 0.1, ""),
		rec("c", domain.URLQueued, 0, ""),
	})
	assert.InDelta(t, (1+0.1+0)/3.0, view.Progress, 1e-9)
}

func TestAggregateTimeBounds(t *testing.T) {
	early := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	late := time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC)
	end1 := time.Date(2024, 3, 1, 9, 10, 0, 0, time.UTC)
	end2 := time.Date(2024, 3, 1, 9, 20, 0, 0, time.UTC)

	a := rec("a", domain.URLCompleted, 1, "")
	a.StartedAt, a.CompletedAt = &late, &end2
	b := rec("b", domain.URLCompleted, 1, "")
	b.StartedAt, b.CompletedAt = &early, &end1

	view := aggregate("t1", []domain.URLRecord{a, b})
	require.NotNil(t, view.StartedAt)
	require.NotNil(t, view.CompletedAt)
	assert.True(t, early.Equal(*view.StartedAt), "task start is the earliest URL start")
	assert.True(t, end2.Equal(*view.CompletedAt), "task end is the latest URL end")
}

func TestTaskBookkeeping(t *testing.T) {
	svc := NewService(DefaultConfig(), nil, nil, nil, nil, nil)

	records := []domain.URLRecord{
		rec("https://example.com/a", domain.URLQueued, 0, ""),
		rec("https://example.com/b", domain.URLQueued, 0, ""),
	}
	svc.rememberTask("t1", records)

	svc.mu.RLock()
	assert.Len(t, svc.byTask["t1"], 2)
	assert.Contains(t, svc.statuses, "https://example.com/a")
	svc.mu.RUnlock()

	// forgetTask is the enqueue rollback compensation; it must be idempotent.
	svc.forgetTask("t1")
	svc.forgetTask("t1")

	svc.mu.RLock()
	assert.Empty(t, svc.byTask["t1"])
	assert.NotContains(t, svc.statuses, "https://example.com/a")
	svc.mu.RUnlock()
}

func TestGetStatusRecoversFromStore(t *testing.T) {
	fake := &fakeTaskStore{
		task: &domain.Task{ID: "t9", Status: domain.TaskStatusCompleted},
		records: []domain.URLRecord{
			{URL: "https://example.com/a", TaskID: "t9", State: domain.URLCompleted, Progress: 1},
			{URL: "https://example.com/b", TaskID: "t9", State: domain.URLCompleted, Progress: 1},
		},
	}
	svc := NewService(DefaultConfig(), nil, fake, nil, nil, nil)

	view, err := svc.GetStatus(context.Background(), "t9")
	require.NoError(t, err)
	assert.Equal(t, string(domain.TaskStatusCompleted), view.Status)
	assert.Equal(t, 2, view.URLCount)
	assert.Equal(t, 1, fake.loads)

	// Recovery repopulates the in-memory map; the next read skips the store.
	svc.mu.RLock()
	assert.Len(t, svc.byTask["t9"], 2)
	svc.mu.RUnlock()
	_, err = svc.GetStatus(context.Background(), "t9")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.loads)
}

func TestGetStatusUnknownTaskIsNotFound(t *testing.T) {
	svc := NewService(DefaultConfig(), nil, &fakeTaskStore{}, nil, nil, nil)
	_, err := svc.GetStatus(context.Background(), "missing")
	require.Error(t, err)
}

func TestEnqueueRejectsOversizedBatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueCapacity = 2
	fake := &fakeTaskStore{}
	svc := NewService(cfg, nil, fake, nil, nil, nil)

	_, err := svc.EnqueueURLs(context.Background(), []SubmissionItem{
		{URL: "https://example.com/a"},
		{URL: "https://example.com/b"},
		{URL: "https://example.com/c"},
	})
	require.Error(t, err)

	// Rejection happens before any state mutates: nothing queued, nothing
	// tracked, nothing persisted.
	assert.Empty(t, svc.queue)
	assert.Zero(t, fake.created)
	svc.mu.RLock()
	assert.Empty(t, svc.statuses)
	assert.Empty(t, svc.byTask)
	svc.mu.RUnlock()
}

func TestEnqueueAcceptsBatchWithinCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueCapacity = 4
	svc := NewService(cfg, nil, &fakeTaskStore{}, nil, nil, nil)
	persisted := 0
	svc.persistTask = func(context.Context, *domain.Task, []domain.URLRecord) error {
		persisted++
		return nil
	}

	res, err := svc.EnqueueURLs(context.Background(), []SubmissionItem{
		{URL: "https://example.com/a"},
		{URL: "https://example.com/b"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.URLsEnqueued)
	assert.Equal(t, 1, persisted)
	assert.Len(t, svc.queue, 2)

	svc.mu.RLock()
	assert.Equal(t, domain.URLQueued, svc.statuses["https://example.com/a"].State)
	svc.mu.RUnlock()
}

func TestEnqueuePersistTimeoutFallsBackToMemory(t *testing.T) {
	svc := NewService(DefaultConfig(), nil, &fakeTaskStore{}, nil, nil, nil)
	svc.persistTask = func(context.Context, *domain.Task, []domain.URLRecord) error {
		return appErrors.NewStore(appErrors.CodeQueryTimeout, "query timed out", context.DeadlineExceeded)
	}

	res, err := svc.EnqueueURLs(context.Background(), []SubmissionItem{{URL: "https://example.com/a"}})
	require.NoError(t, err, "a degraded store still accepts submissions")
	assert.Equal(t, 1, res.URLsEnqueued)
	svc.mu.RLock()
	assert.Contains(t, svc.statuses, "https://example.com/a")
	svc.mu.RUnlock()
}

func TestWorkerDeadlineSettlesURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerTimeout = 20 * time.Millisecond
	svc := NewService(cfg, nil, nil, nil, nil, nil)
	release := make(chan struct{})
	svc.process = func(context.Context, queueItem) error {
		<-release
		return nil
	}

	svc.runWithDeadline(context.Background(), zap.NewNop(),
		queueItem{taskID: "t1", item: SubmissionItem{URL: "https://example.com/a"}})
	close(release)

	svc.mu.RLock()
	record := *svc.statuses["https://example.com/a"]
	svc.mu.RUnlock()
	assert.Equal(t, domain.URLError, record.State)
	assert.Contains(t, record.Message, "timed out")
	require.NotNil(t, record.CompletedAt)
}

func TestWorkerSettlementIsTerminal(t *testing.T) {
	svc := NewService(DefaultConfig(), nil, nil, nil, nil, nil)
	svc.process = func(_ context.Context, qi queueItem) error {
		svc.setURLState(qi.item.URL, qi.taskID, domain.URLCompleted, 1.0, "done")
		return nil
	}

	svc.runWithDeadline(context.Background(), zap.NewNop(),
		queueItem{taskID: "t1", item: SubmissionItem{URL: "https://example.com/a"}})

	svc.mu.RLock()
	record := *svc.statuses["https://example.com/a"]
	svc.mu.RUnlock()
	assert.Equal(t, domain.URLCompleted, record.State,
		"a status settled by the worker is not overwritten afterwards")
	assert.Equal(t, "done", record.Message)
}

func TestSetURLStateStampsCompletion(t *testing.T) {
	svc := NewService(DefaultConfig(), nil, nil, nil, nil, nil)

	svc.markProcessing("https://example.com/a", "t1", time.Now())
	svc.mu.RLock()
	assert.Equal(t, domain.URLProcessing, svc.statuses["https://example.com/a"].State)
	assert.InDelta(t, 0.1, svc.statuses["https://example.com/a"].Progress, 1e-9)
	svc.mu.RUnlock()

	svc.setURLState("https://example.com/a", "t1", domain.URLCompleted, 1.0, "done")
	svc.mu.RLock()
	record := svc.statuses["https://example.com/a"]
	svc.mu.RUnlock()
	assert.Equal(t, domain.URLCompleted, record.State)
	require.NotNil(t, record.CompletedAt)
}
