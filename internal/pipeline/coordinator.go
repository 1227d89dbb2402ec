package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pagegraph-backend/internal/domain"
	appErrors "pagegraph-backend/pkg/errors"
)

const (
	customTimings           = "component_timings"
	customValidationResults = "validation_results"
)

// Coordinator runs all components registered for a stage under the stage's
// execution policy: concurrent or sequential, with per-component retry.
type Coordinator struct {
	components map[Stage][]Component
	logger     *zap.Logger

	// configMu guards configs, which the config hot-reload path replaces at
	// runtime.
	configMu sync.RWMutex
	configs  map[Stage]StageConfig

	// timingsMu guards the page's shared custom maps when components of one
	// stage run concurrently.
	timingsMu sync.Mutex
}

// NewCoordinator creates a coordinator with the given stage configs; missing
// stages fall back to defaults.
func NewCoordinator(configs map[Stage]StageConfig, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	merged := DefaultStageConfigs()
	for stage, cfg := range configs {
		merged[stage] = cfg
	}
	return &Coordinator{
		components: make(map[Stage][]Component),
		configs:    merged,
		logger:     logger,
	}
}

// Register appends a component to a stage; registration order is preserved
// for sequential execution.
func (c *Coordinator) Register(stage Stage, component Component) {
	c.components[stage] = append(c.components[stage], component)
}

// SetConfigs replaces the stage configs, merging the given ones over the
// defaults. Stages already executing keep the config they started with.
func (c *Coordinator) SetConfigs(configs map[Stage]StageConfig) {
	merged := DefaultStageConfigs()
	for stage, cfg := range configs {
		merged[stage] = cfg
	}
	c.configMu.Lock()
	c.configs = merged
	c.configMu.Unlock()
}

// Config returns the effective config for a stage.
func (c *Coordinator) Config(stage Stage) StageConfig {
	c.configMu.RLock()
	cfg, ok := c.configs[stage]
	c.configMu.RUnlock()
	if ok {
		return cfg
	}
	return StageConfig{
		Timeout:              60 * time.Second,
		Required:             true,
		ConcurrentComponents: true,
		ValidationRequired:   true,
		Retry:                DefaultRetryPolicy(),
	}
}

// Components returns the components registered for a stage.
func (c *Coordinator) Components(stage Stage) []Component {
	return c.components[stage]
}

// ValidateStage invokes each component's Validate, records per-component
// outcomes in the page's custom metadata, and returns nil only if every
// component passed. A component whose Validate panics counts as a failed
// validation, not a stage abort; the conjunction still fails the stage.
func (c *Coordinator) ValidateStage(ctx context.Context, page *domain.Page, stage Stage) error {
	components := c.components[stage]
	if len(components) == 0 {
		return nil
	}

	results := make(map[string]bool, len(components))
	var firstErr error
	for _, component := range components {
		err := c.safeValidate(ctx, component, page)
		results[component.Name()] = err == nil
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.recordValidation(page, stage, results)
	return firstErr
}

func (c *Coordinator) safeValidate(ctx context.Context, component Component, page *domain.Page) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = appErrors.NewValidationf("%s validation panicked: %v", component.Name(), r)
		}
	}()
	return component.Validate(ctx, page)
}

// ExecuteStage runs all components for a stage. With ConcurrentComponents the
// components launch in parallel and all are awaited; otherwise they run in
// registration order. Each component runs under the stage retry policy, and a
// component failing after exhausted retries surfaces as a stage error naming
// the component.
func (c *Coordinator) ExecuteStage(ctx context.Context, page *domain.Page, stage Stage) error {
	components := c.components[stage]
	if len(components) == 0 {
		return nil
	}
	cfg := c.Config(stage)

	if cfg.ConcurrentComponents {
		g, gctx := errgroup.WithContext(ctx)
		for _, component := range components {
			component := component
			g.Go(func() error {
				return c.runComponent(gctx, page, stage, component, cfg.Retry)
			})
		}
		return g.Wait()
	}

	for _, component := range components {
		if err := c.runComponent(ctx, page, stage, component, cfg.Retry); err != nil {
			return err
		}
	}
	return nil
}

// runComponent drives one component through the retry policy, recording its
// elapsed time in the page's component timings.
func (c *Coordinator) runComponent(ctx context.Context, page *domain.Page, stage Stage, component Component, retry RetryPolicy) error {
	attempts := retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := retry.Delay

	started := time.Now()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = c.safeProcess(ctx, component, page)
		if lastErr == nil {
			c.recordTiming(page, component.Name(), time.Since(started))
			return nil
		}
		if appErrors.IsValidation(lastErr) {
			// Precondition failures do not improve with retries.
			break
		}
		if attempt == attempts {
			break
		}

		c.logger.Debug("component retrying",
			zap.String("stage", string(stage)),
			zap.String("component", component.Name()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(lastErr))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.recordTiming(page, component.Name(), time.Since(started))
			return appErrors.NewStage(string(stage),
				fmt.Sprintf("component %s cancelled", component.Name()), ctx.Err())
		case <-timer.C:
		}
		if retry.ExponentialBackoff {
			delay *= 2
			if retry.MaxDelay > 0 && delay > retry.MaxDelay {
				delay = retry.MaxDelay
			}
		}
	}

	c.recordTiming(page, component.Name(), time.Since(started))
	if appErrors.IsValidation(lastErr) {
		return lastErr
	}
	return appErrors.NewStage(string(stage),
		fmt.Sprintf("component %s failed after %d attempts", component.Name(), attempts),
		appErrors.NewComponent(component.Name(), "process failed", lastErr))
}

func (c *Coordinator) safeProcess(ctx context.Context, component Component, page *domain.Page) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = appErrors.NewComponent(component.Name(), fmt.Sprintf("panic: %v", r), nil)
		}
	}()
	return component.Process(ctx, page)
}

func (c *Coordinator) recordTiming(page *domain.Page, component string, elapsed time.Duration) {
	c.timingsMu.Lock()
	defer c.timingsMu.Unlock()
	timings, _ := page.CustomValue(customTimings)
	m, ok := timings.(map[string]int64)
	if !ok {
		m = make(map[string]int64)
	}
	m[component] = elapsed.Milliseconds()
	page.SetCustom(customTimings, m)
}

func (c *Coordinator) recordValidation(page *domain.Page, stage Stage, results map[string]bool) {
	c.timingsMu.Lock()
	defer c.timingsMu.Unlock()
	existing, _ := page.CustomValue(customValidationResults)
	m, ok := existing.(map[string]map[string]bool)
	if !ok {
		m = make(map[string]map[string]bool)
	}
	m[string(stage)] = results
	page.SetCustom(customValidationResults, m)
}
