package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"pagegraph-backend/internal/domain"
	appErrors "pagegraph-backend/pkg/errors"
	"pagegraph-backend/pkg/observability"
)

// NormalizeURL parses a raw URL and extracts its registrable domain: the last
// two host labels unless the host has fewer. File URLs map to localhost.
func NormalizeURL(raw string) (normalized, domain string, err error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", appErrors.NewValidationf("invalid URL %q: %v", raw, err)
	}
	if parsed.Scheme == "file" {
		return parsed.String(), "localhost", nil
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", "", appErrors.NewValidationf("URL %q missing scheme or host", raw)
	}

	host := strings.ToLower(parsed.Hostname())
	labels := strings.Split(host, ".")
	if len(labels) > 2 {
		domain = strings.Join(labels[len(labels)-2:], ".")
	} else {
		domain = host
	}
	return parsed.String(), domain, nil
}

// Orchestrator advances a page through the stage sequence, updating state and
// emitting events as it goes.
type Orchestrator struct {
	coordinator *Coordinator
	emitter     *Emitter
	logger      *zap.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(coordinator *Coordinator, emitter *Emitter, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = NewEmitter(false, logger)
	}
	return &Orchestrator{coordinator: coordinator, emitter: emitter, logger: logger}
}

// ProcessPage drives one URL through every stage. On success the page ends
// active; on any unrecovered failure it ends error with the failure recorded,
// and the error is returned to the caller.
func (o *Orchestrator) ProcessPage(ctx context.Context, rawURL, content string) (*domain.Page, error) {
	normalized, pageDomain, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	page := domain.NewPage(normalized, pageDomain)
	page.Status = domain.PageStatusInProgress
	page.Content = content

	started := time.Now()
	for _, stage := range StageSequence() {
		if err := o.runStage(ctx, page, stage); err != nil {
			cfg := o.coordinator.Config(stage)
			o.emitter.Emit(Event{
				Type:    EventStageError,
				Stage:   stage,
				Level:   LevelError,
				Message: errorMessage(err),
				Metadata: o.eventMetadata(page, started),
			})
			if !cfg.Required {
				o.logger.Warn("optional stage failed, continuing",
					zap.String("stage", string(stage)),
					zap.String("url", page.URL),
					zap.Error(err))
				continue
			}
			page.MarkError(errorMessage(err))
			page.Metrics.ProcessingTime = time.Since(started).Seconds()
			o.emitter.Emit(Event{
				Type:     EventError,
				Stage:    stage,
				Level:    LevelError,
				Message:  errorMessage(err),
				Metadata: o.eventMetadata(page, started),
			})
			return page, err
		}
	}

	page.Status = domain.PageStatusActive
	page.Metrics.ProcessingTime = time.Since(started).Seconds()
	o.emitter.Emit(Event{
		Type:     EventComplete,
		Stage:    StageComplete,
		Level:    LevelInfo,
		Message:  "pipeline complete",
		Metadata: o.eventMetadata(page, started),
	})
	return page, nil
}

// runStage validates and executes one stage under its timeout.
func (o *Orchestrator) runStage(ctx context.Context, page *domain.Page, stage Stage) (err error) {
	ctx, span := observability.Tracer().Start(ctx, "pipeline."+string(stage),
		trace.WithAttributes(attribute.String("page.url", page.URL)))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	cfg := o.coordinator.Config(stage)
	stageStart := time.Now()

	o.emitter.Emit(Event{
		Type:     EventStageStart,
		Stage:    stage,
		Level:    LevelInfo,
		Message:  fmt.Sprintf("stage %s starting", stage),
		Metadata: o.eventMetadata(page, stageStart),
	})

	if cfg.ValidationRequired {
		if err := o.coordinator.ValidateStage(ctx, page, stage); err != nil {
			return err
		}
	}

	stageCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	// ExecuteStage is awaited through a channel so the stage deadline fires
	// even when a component does not observe its context.
	done := make(chan error, 1)
	go func() {
		done <- o.coordinator.ExecuteStage(stageCtx, page, stage)
	}()

	select {
	case err := <-done:
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && stageCtx.Err() == context.DeadlineExceeded {
				return appErrors.NewTimeout(fmt.Sprintf("%s timed out after %s", stage, cfg.Timeout))
			}
			return err
		}
	case <-stageCtx.Done():
		if stageCtx.Err() == context.DeadlineExceeded {
			return appErrors.NewTimeout(fmt.Sprintf("%s timed out after %s", stage, cfg.Timeout))
		}
		return appErrors.NewStage(string(stage), "stage cancelled", stageCtx.Err())
	}

	o.emitter.Emit(Event{
		Type:    EventStageEnd,
		Stage:   stage,
		Level:   LevelInfo,
		Message: fmt.Sprintf("stage %s finished in %s", stage, time.Since(stageStart).Round(time.Millisecond)),
		Metadata: o.eventMetadata(page, stageStart),
	})
	return nil
}

// AbortProcessing marks the page error with reason "aborted" and emits an
// error event. Prior stages are expected to have been individually
// transactional; no rollback is attempted here.
func (o *Orchestrator) AbortProcessing(page *domain.Page) {
	page.MarkError("aborted")
	o.emitter.Emit(Event{
		Type:     EventError,
		Stage:    StageError,
		Level:    LevelError,
		Message:  "processing aborted",
		Metadata: o.eventMetadata(page, time.Now()),
	})
}

func (o *Orchestrator) eventMetadata(page *domain.Page, since time.Time) map[string]any {
	md := map[string]any{
		"page_id":         page.ID,
		"url":             page.URL,
		"processing_time": time.Since(since).Seconds(),
	}
	if timings, ok := page.CustomValue(customTimings); ok {
		md["component_timings"] = timings
	}
	if results, ok := page.CustomValue(customValidationResults); ok {
		md["validation_results"] = results
	}
	return md
}

// errorMessage strips the taxonomy prefix so recorded page errors read as
// plain reasons.
func errorMessage(err error) string {
	var appErr *appErrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
