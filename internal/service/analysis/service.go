// Package analysis is the pipeline service: a bounded submission queue, a
// worker pool driving the orchestrator per URL, and task status tracking that
// survives restarts through the graph store.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pagegraph-backend/internal/domain"
	"pagegraph-backend/internal/graph"
	"pagegraph-backend/internal/pipeline"
	"pagegraph-backend/internal/pipeline/components"
	appErrors "pagegraph-backend/pkg/errors"
	"pagegraph-backend/pkg/observability"
)

// TaskStore persists task lifecycle records. Satisfied by store.TaskStore.
type TaskStore interface {
	CreateTask(ctx context.Context, tx *graph.Transaction, task *domain.Task, urls []domain.URLRecord) error
	UpdateURLState(ctx context.Context, record domain.URLRecord) error
	LoadTask(ctx context.Context, taskID string) (*domain.Task, []domain.URLRecord, error)
}

// PageStore persists page aggregates. Satisfied by store.PageStore.
type PageStore interface {
	SavePage(ctx context.Context, tx *graph.Transaction, page *domain.Page, keywords []*domain.KeywordIdentifier, relationships []domain.Relationship) error
	SaveErrorPage(ctx context.Context, page *domain.Page) error
	ApplyActivation(ctx context.Context, tx *graph.Transaction, page *domain.Page) error
}

// Config tunes the pipeline service.
type Config struct {
	MaxConcurrent      int           // in-flight URL workers
	QueueCapacity      int           // bounded FIFO submission queue
	WorkerTimeout      time.Duration // outer per-URL deadline
	StoreStatusTimeout time.Duration // slow-path status query budget
	MemoryStatusBudget time.Duration // fast-path budget, advisory
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:      10,
		QueueCapacity:      1000,
		WorkerTimeout:      90 * time.Second,
		StoreStatusTimeout: 10 * time.Second,
		MemoryStatusBudget: 1 * time.Second,
	}
}

// SubmissionItem is one URL submission with its browser context.
type SubmissionItem struct {
	URL        string
	Context    string // browser context name
	TabID      string
	WindowID   string
	BookmarkID string
	Content    string // optional injected content; components fetch otherwise
}

// EnqueueResult is returned from EnqueueURLs.
type EnqueueResult struct {
	TaskID       string    `json:"task_id"`
	URLsEnqueued int       `json:"urls_enqueued"`
	QueueSize    int       `json:"queue_size"`
	QueuedAt     time.Time `json:"queued_at"`
}

// TaskStatusView is the aggregated status of one task.
type TaskStatusView struct {
	TaskID      string     `json:"task_id"`
	Status      string     `json:"status"`
	Progress    float64    `json:"progress"`
	Message     string     `json:"message,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	URLCount    int        `json:"url_count"`
}

type queueItem struct {
	taskID string
	item   SubmissionItem
}

// Service owns the queue, the worker pool, and the in-memory status map.
// Each URL's status has a single writer (its worker); readers tolerate stale
// reads.
type Service struct {
	cfg          Config
	mgr          *graph.Manager
	tasks        TaskStore
	pages        PageStore
	orchestrator *pipeline.Orchestrator
	logger       *zap.Logger

	// enqueueMu serializes producers so batch capacity checks hold.
	enqueueMu sync.Mutex
	queue     chan queueItem

	// process drives one popped item; swapped in tests.
	process func(ctx context.Context, qi queueItem) error
	// persistTask writes the enqueue transaction; swapped in tests.
	persistTask func(ctx context.Context, task *domain.Task, records []domain.URLRecord) error

	mu       sync.RWMutex
	statuses map[string]*domain.URLRecord // url -> status
	byTask   map[string][]string          // task id -> urls

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started bool
}

// NewService wires the pipeline service.
func NewService(cfg Config, mgr *graph.Manager, tasks TaskStore, pages PageStore, orchestrator *pipeline.Orchestrator, logger *zap.Logger) *Service {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	if cfg.WorkerTimeout <= 0 {
		cfg.WorkerTimeout = DefaultConfig().WorkerTimeout
	}
	if cfg.StoreStatusTimeout <= 0 {
		cfg.StoreStatusTimeout = DefaultConfig().StoreStatusTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		cfg:          cfg,
		mgr:          mgr,
		tasks:        tasks,
		pages:        pages,
		orchestrator: orchestrator,
		logger:       logger,
		queue:        make(chan queueItem, cfg.QueueCapacity),
		statuses:     make(map[string]*domain.URLRecord),
		byTask:       make(map[string][]string),
	}
	s.process = s.processURL
	s.persistTask = s.persistTaskTx
	return s
}

// Start launches the worker pool. One goroutine per pool slot.
func (s *Service) Start(ctx context.Context) {
	if s.started {
		return
	}
	s.started = true
	workerCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for i := 0; i < s.cfg.MaxConcurrent; i++ {
		s.wg.Add(1)
		go s.workerLoop(workerCtx, i)
	}
	s.logger.Info("pipeline service started", zap.Int("workers", s.cfg.MaxConcurrent))
}

// Shutdown cancels the dispatcher and in-flight workers, awaits each, and
// drains pending queue items without processing. The store connection is
// closed by the caller afterwards.
func (s *Service) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	drained := 0
	for {
		select {
		case <-s.queue:
			drained++
		default:
			s.logger.Info("pipeline service stopped", zap.Int("drained", drained))
			return
		}
	}
}

// EnqueueURLs accepts a batch of submissions under one task id. The task and
// its URL records are written in one transaction; a rollback handler unwinds
// the in-memory entries if the transaction rolls back. A store timeout falls
// back to a memory-only enqueue so degraded stores still make progress.
func (s *Service) EnqueueURLs(ctx context.Context, items []SubmissionItem) (*EnqueueResult, error) {
	if len(items) == 0 {
		return nil, appErrors.NewValidation("no URLs submitted")
	}
	taskID := uuid.New().String()
	now := time.Now()

	urls := make([]string, 0, len(items))
	records := make([]domain.URLRecord, 0, len(items))
	for _, item := range items {
		if item.URL == "" {
			return nil, appErrors.NewValidation("submission has an empty URL")
		}
		urls = append(urls, item.URL)
		records = append(records, domain.URLRecord{
			URL:    item.URL,
			TaskID: taskID,
			State:  domain.URLQueued,
		})
	}

	// Producers are serialized so the whole batch either fits or is rejected
	// before any state mutates; workers only ever free slots concurrently.
	s.enqueueMu.Lock()
	defer s.enqueueMu.Unlock()
	if free := cap(s.queue) - len(s.queue); len(items) > free {
		return nil, appErrors.NewInternal(
			fmt.Sprintf("submission queue full: %d URLs submitted, %d slots free", len(items), free), nil)
	}

	s.mu.Lock()
	for i := range records {
		record := records[i]
		s.statuses[record.URL] = &record
	}
	s.byTask[taskID] = urls
	s.mu.Unlock()

	task := &domain.Task{
		ID:        taskID,
		Status:    domain.TaskStatusEnqueued,
		CreatedAt: now,
	}
	if err := s.persistTask(ctx, task, records); err != nil {
		if appErrors.IsTimeout(err) || appErrors.CodeOf(err) == appErrors.CodeQueryTimeout {
			// Memory-only fallback keeps degraded stores moving; status
			// recovery is unavailable until the store returns.
			s.logger.Warn("task persistence timed out, continuing memory-only",
				zap.String("task_id", taskID),
				zap.Error(err))
			s.rememberTask(taskID, records)
		} else {
			return nil, err
		}
	}

	for _, item := range items {
		s.queue <- queueItem{taskID: taskID, item: item}
	}

	observability.QueueDepth.Set(float64(len(s.queue)))
	return &EnqueueResult{
		TaskID:       taskID,
		URLsEnqueued: len(items),
		QueueSize:    len(s.queue),
		QueuedAt:     now,
	}, nil
}

// persistTaskTx writes the task and its URL records in one transaction, with
// the in-memory compensation attached as a rollback handler.
func (s *Service) persistTaskTx(ctx context.Context, task *domain.Task, records []domain.URLRecord) error {
	return s.mgr.Execute(ctx, func(ctx context.Context, tx *graph.Transaction) error {
		tx.AddRollbackHandler(func(context.Context) error {
			s.forgetTask(task.ID)
			return nil
		})
		return s.tasks.CreateTask(ctx, tx, task, records)
	})
}

// forgetTask removes a task's URLs from the in-memory map; used as the
// enqueue transaction's compensation. Idempotent: rollback handlers may run
// twice when a failed commit is re-driven.
func (s *Service) forgetTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, url := range s.byTask[taskID] {
		delete(s.statuses, url)
	}
	delete(s.byTask, taskID)
}

// rememberTask restores in-memory records after the rollback handler removed
// them on the timeout fallback path.
func (s *Service) rememberTask(taskID string, records []domain.URLRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	urls := make([]string, 0, len(records))
	for i := range records {
		record := records[i]
		s.statuses[record.URL] = &record
		urls = append(urls, record.URL)
	}
	s.byTask[taskID] = urls
}

// workerLoop is one pool slot: pop, process under the outer deadline, repeat.
// task_done is guaranteed exactly once per popped item on every exit path.
func (s *Service) workerLoop(ctx context.Context, slot int) {
	defer s.wg.Done()
	logger := s.logger.With(zap.Int("worker", slot))

	for {
		select {
		case <-ctx.Done():
			return
		case qi := <-s.queue:
			observability.QueueDepth.Set(float64(len(s.queue)))
			s.runWithDeadline(ctx, logger, qi)
		case <-time.After(200 * time.Millisecond):
			// Idle poll keeps shutdown responsive.
		}
	}
}

// runWithDeadline wraps processURL in the 90s outer timeout and guarantees a
// terminal status on every exit path: success, error, or timeout.
func (s *Service) runWithDeadline(ctx context.Context, logger *zap.Logger, qi queueItem) {
	workCtx, cancel := context.WithTimeout(ctx, s.cfg.WorkerTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.process(workCtx, qi)
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Warn("url processing failed",
				zap.String("url", qi.item.URL),
				zap.String("task_id", qi.taskID),
				zap.Error(err))
		}
	case <-workCtx.Done():
		msg := fmt.Sprintf("worker timed out after %s", s.cfg.WorkerTimeout)
		if ctx.Err() != nil {
			msg = "shutdown before completion"
		}
		s.setURLState(qi.item.URL, qi.taskID, domain.URLError, 0, msg)
		logger.Warn("url worker deadline exceeded",
			zap.String("url", qi.item.URL),
			zap.String("task_id", qi.taskID))
	}
}

// processURL drives one submission through the orchestrator and settles its
// status.
func (s *Service) processURL(ctx context.Context, qi queueItem) error {
	url := qi.item.URL
	started := time.Now()
	s.markProcessing(url, qi.taskID, started)

	tx, err := s.mgr.Begin(ctx)
	if err != nil {
		s.setURLState(url, qi.taskID, domain.URLError, 0, err.Error())
		return err
	}
	tx.AddRollbackHandler(func(context.Context) error {
		s.setURLState(url, qi.taskID, domain.URLError, 0, "rolled back")
		return nil
	})

	page, procErr := s.orchestrator.ProcessPage(ctx, url, qi.item.Content)
	if procErr != nil {
		_ = tx.Rollback(ctx)
		if page != nil {
			if saveErr := s.pages.SaveErrorPage(ctx, page); saveErr != nil {
				s.logger.Warn("failed to persist error page",
					zap.String("url", url), zap.Error(saveErr))
			}
		}
		s.setURLState(url, qi.taskID, domain.URLError, 0, errText(procErr))
		s.writeThrough(url, qi.taskID)
		return procErr
	}

	// Browser context from the submission lands on the finished page; tab
	// contexts count as visits.
	if qi.item.Context != "" && domain.ValidBrowserContext(qi.item.Context) {
		bc := domain.BrowserContext(qi.item.Context)
		page.ApplyBrowserContext(bc, qi.item.TabID, qi.item.WindowID, qi.item.BookmarkID)
		if bc == domain.ContextActiveTab || bc == domain.ContextOpenTab {
			page.RecordVisit(time.Now())
		}
	}

	// The storage stage already persisted the page with its keywords and
	// edges; only the activation subset is written here.
	keywords, _ := components.AnalysisOutput(page)
	if err := s.pages.ApplyActivation(ctx, tx, page); err != nil {
		_ = tx.Rollback(ctx)
		s.setURLState(url, qi.taskID, domain.URLError, 0, errText(err))
		s.writeThrough(url, qi.taskID)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		s.setURLState(url, qi.taskID, domain.URLError, 0, errText(err))
		s.writeThrough(url, qi.taskID)
		return err
	}

	observability.KeywordsExtracted.Add(float64(len(keywords)))
	s.setURLState(url, qi.taskID, domain.URLCompleted, 1.0,
		fmt.Sprintf("%d keywords in %.2fs", len(keywords), time.Since(started).Seconds()))
	s.writeThrough(url, qi.taskID)
	return nil
}

func (s *Service) markProcessing(url, taskID string, started time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.statuses[url]
	if !ok {
		record = &domain.URLRecord{URL: url, TaskID: taskID}
		s.statuses[url] = record
	}
	record.State = domain.URLProcessing
	record.Progress = 0.1
	record.StartedAt = &started
}

func (s *Service) setURLState(url, taskID string, state domain.URLState, progress float64, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.statuses[url]
	if !ok {
		record = &domain.URLRecord{URL: url, TaskID: taskID}
		s.statuses[url] = record
	}
	record.State = state
	record.Progress = progress
	record.Message = message
	if state == domain.URLCompleted || state == domain.URLError {
		now := time.Now()
		record.CompletedAt = &now
	}
}

// writeThrough persists the in-memory status; failures are logged, never
// fatal to the worker.
func (s *Service) writeThrough(url, taskID string) {
	s.mu.RLock()
	record, ok := s.statuses[url]
	var copied domain.URLRecord
	if ok {
		copied = *record
	}
	s.mu.RUnlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreStatusTimeout)
	defer cancel()
	if err := s.tasks.UpdateURLState(ctx, copied); err != nil {
		s.logger.Warn("status write-through failed",
			zap.String("url", url),
			zap.String("task_id", taskID),
			zap.Error(err))
	}
}

// GetStatus aggregates a task's URL statuses. Fast path reads memory; when
// the task is unknown in memory the store is queried and the map repopulated,
// recovering status after a restart. Unknown tasks surface as not-found,
// distinct from store failures.
func (s *Service) GetStatus(ctx context.Context, taskID string) (*TaskStatusView, error) {
	s.mu.RLock()
	urls := s.byTask[taskID]
	records := make([]domain.URLRecord, 0, len(urls))
	for _, url := range urls {
		if record, ok := s.statuses[url]; ok {
			records = append(records, *record)
		}
	}
	s.mu.RUnlock()

	if len(records) == 0 {
		storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreStatusTimeout)
		defer cancel()
		_, recovered, err := s.tasks.LoadTask(storeCtx, taskID)
		if err != nil {
			return nil, err
		}
		s.rememberTask(taskID, recovered)
		records = recovered
	}
	if len(records) == 0 {
		return nil, appErrors.NewNotFound("task " + taskID + " has no URLs")
	}
	return aggregate(taskID, records), nil
}

// aggregate folds per-URL statuses into the task view: any error wins with
// the first error message, then all-completed, then any-processing, else
// queued. Progress is the mean of per-URL progress.
func aggregate(taskID string, records []domain.URLRecord) *TaskStatusView {
	view := &TaskStatusView{TaskID: taskID, URLCount: len(records)}

	completed := 0
	processing := 0
	progressSum := 0.0
	var firstError string
	var earliestStart, latestEnd *time.Time

	for i := range records {
		r := &records[i]
		progressSum += r.Progress
		switch r.State {
		case domain.URLError:
			if firstError == "" {
				firstError = r.Message
			}
		case domain.URLCompleted:
			completed++
		case domain.URLProcessing:
			processing++
		}
		if r.StartedAt != nil && (earliestStart == nil || r.StartedAt.Before(*earliestStart)) {
			earliestStart = r.StartedAt
		}
		if r.CompletedAt != nil && (latestEnd == nil || r.CompletedAt.After(*latestEnd)) {
			latestEnd = r.CompletedAt
		}
	}

	switch {
	case firstError != "":
		view.Status = string(domain.TaskStatusError)
		view.Error = firstError
		view.Message = firstError
	case completed == len(records):
		view.Status = string(domain.TaskStatusCompleted)
		view.Message = "all URLs processed"
		view.CompletedAt = latestEnd
	case processing > 0:
		view.Status = string(domain.TaskStatusProcessing)
	default:
		view.Status = "queued"
	}
	view.Progress = progressSum / float64(len(records))
	view.StartedAt = earliestStart
	return view
}

func errText(err error) string {
	var appErr *appErrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
