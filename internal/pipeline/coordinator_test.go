package pipeline_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagegraph-backend/internal/domain"
	"pagegraph-backend/internal/pipeline"
	appErrors "pagegraph-backend/pkg/errors"
)

// fakeComponent is a scriptable component for coordinator tests.
type fakeComponent struct {
	name        string
	kind        pipeline.ComponentType
	validateErr error
	failures    int // fail this many Process calls, then succeed
	sleep       time.Duration

	mu       sync.Mutex
	calls    int
	order    *[]string // appended to under mu when set
}

func (f *fakeComponent) Kind() pipeline.ComponentType { return f.kind }
func (f *fakeComponent) Name() string                 { return f.name }

func (f *fakeComponent) Validate(context.Context, *domain.Page) error {
	return f.validateErr
}

func (f *fakeComponent) Process(ctx context.Context, _ *domain.Page) error {
	f.mu.Lock()
	f.calls++
	calls := f.calls
	if f.order != nil {
		*f.order = append(*f.order, f.name)
	}
	f.mu.Unlock()

	if f.sleep > 0 {
		select {
		case <-time.After(f.sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if calls <= f.failures {
		return appErrors.NewInternal("transient failure", nil)
	}
	return nil
}

func (f *fakeComponent) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastConfigs(stage pipeline.Stage, cfg pipeline.StageConfig) map[pipeline.Stage]pipeline.StageConfig {
	cfg.Retry.Delay = time.Millisecond
	cfg.Retry.MaxDelay = 4 * time.Millisecond
	return map[pipeline.Stage]pipeline.StageConfig{stage: cfg}
}

func TestExecuteStageRetriesAreBounded(t *testing.T) {
	comp := &fakeComponent{name: "flaky", kind: pipeline.ComponentCustom, failures: 10}
	coord := pipeline.NewCoordinator(fastConfigs(pipeline.StageContent, pipeline.StageConfig{
		Timeout:              time.Second,
		Required:             true,
		ConcurrentComponents: false,
		ValidationRequired:   true,
		Retry:                pipeline.RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond, ExponentialBackoff: true},
	}), nil)
	coord.Register(pipeline.StageContent, comp)

	page := domain.NewPage("https://example.com/a", "example.com")
	err := coord.ExecuteStage(context.Background(), page, pipeline.StageContent)

	require.Error(t, err)
	assert.Equal(t, 3, comp.callCount(), "process invocations must not exceed max_attempts")
	assert.True(t, appErrors.IsStage(err))
}

func TestExecuteStageRecoversWithinRetries(t *testing.T) {
	comp := &fakeComponent{name: "flaky", kind: pipeline.ComponentCustom, failures: 2}
	coord := pipeline.NewCoordinator(fastConfigs(pipeline.StageContent, pipeline.StageConfig{
		Timeout:  time.Second,
		Required: true,
		Retry:    pipeline.RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond},
	}), nil)
	coord.Register(pipeline.StageContent, comp)

	page := domain.NewPage("https://example.com/a", "example.com")
	err := coord.ExecuteStage(context.Background(), page, pipeline.StageContent)

	assert.NoError(t, err)
	assert.Equal(t, 3, comp.callCount())
}

func TestExecuteStageSequentialOrder(t *testing.T) {
	var order []string
	first := &fakeComponent{name: "first", kind: pipeline.ComponentCustom, order: &order}
	second := &fakeComponent{name: "second", kind: pipeline.ComponentCustom, order: &order}

	coord := pipeline.NewCoordinator(fastConfigs(pipeline.StageMetadata, pipeline.StageConfig{
		Timeout:              time.Second,
		Required:             true,
		ConcurrentComponents: false,
		Retry:                pipeline.RetryPolicy{MaxAttempts: 1},
	}), nil)
	coord.Register(pipeline.StageMetadata, first)
	coord.Register(pipeline.StageMetadata, second)

	page := domain.NewPage("https://example.com/a", "example.com")
	require.NoError(t, coord.ExecuteStage(context.Background(), page, pipeline.StageMetadata))
	assert.Equal(t, []string{"first", "second"}, order, "sequential stages preserve registration order")
}

func TestExecuteStageConcurrentAwaitsAll(t *testing.T) {
	slow := &fakeComponent{name: "slow", kind: pipeline.ComponentCustom, sleep: 20 * time.Millisecond}
	fast := &fakeComponent{name: "fast", kind: pipeline.ComponentCustom}

	coord := pipeline.NewCoordinator(fastConfigs(pipeline.StageMetadata, pipeline.StageConfig{
		Timeout:              time.Second,
		Required:             true,
		ConcurrentComponents: true,
		Retry:                pipeline.RetryPolicy{MaxAttempts: 1},
	}), nil)
	coord.Register(pipeline.StageMetadata, slow)
	coord.Register(pipeline.StageMetadata, fast)

	page := domain.NewPage("https://example.com/a", "example.com")
	require.NoError(t, coord.ExecuteStage(context.Background(), page, pipeline.StageMetadata))
	assert.Equal(t, 1, slow.callCount())
	assert.Equal(t, 1, fast.callCount())
}

func TestExecuteStageRecordsComponentTimings(t *testing.T) {
	comp := &fakeComponent{name: "timed", kind: pipeline.ComponentCustom, sleep: 5 * time.Millisecond}
	coord := pipeline.NewCoordinator(nil, nil)
	coord.Register(pipeline.StageContent, comp)

	page := domain.NewPage("https://example.com/a", "example.com")
	require.NoError(t, coord.ExecuteStage(context.Background(), page, pipeline.StageContent))

	timings, ok := page.CustomValue("component_timings")
	require.True(t, ok)
	m, ok := timings.(map[string]int64)
	require.True(t, ok)
	assert.Contains(t, m, "timed")
}

func TestSetConfigsTakesEffect(t *testing.T) {
	coord := pipeline.NewCoordinator(nil, nil)
	before := coord.Config(pipeline.StageContent)

	updated := before
	updated.Timeout = 2 * time.Second
	updated.Required = false
	coord.SetConfigs(map[pipeline.Stage]pipeline.StageConfig{
		pipeline.StageContent: updated,
	})

	after := coord.Config(pipeline.StageContent)
	assert.Equal(t, 2*time.Second, after.Timeout)
	assert.False(t, after.Required)

	// Stages not named in the update fall back to defaults, not to zero
	// values.
	other := coord.Config(pipeline.StageMetadata)
	assert.NotZero(t, other.Timeout)
}

func TestValidateStageRecordsPerComponentOutcomes(t *testing.T) {
	good := &fakeComponent{name: "good", kind: pipeline.ComponentCustom}
	bad := &fakeComponent{
		name:        "bad",
		kind:        pipeline.ComponentCustom,
		validateErr: appErrors.NewValidation("precondition not met"),
	}
	coord := pipeline.NewCoordinator(nil, nil)
	coord.Register(pipeline.StageContent, good)
	coord.Register(pipeline.StageContent, bad)

	page := domain.NewPage("https://example.com/a", "example.com")
	err := coord.ValidateStage(context.Background(), page, pipeline.StageContent)

	require.Error(t, err, "one failed validation fails the conjunction")
	assert.True(t, appErrors.IsValidation(err))

	raw, ok := page.CustomValue("validation_results")
	require.True(t, ok)
	results, ok := raw.(map[string]map[string]bool)
	require.True(t, ok)
	assert.True(t, results["content"]["good"])
	assert.False(t, results["content"]["bad"])
}

func TestValidateStageValidationDoesNotRetry(t *testing.T) {
	comp := &fakeComponent{name: "strict", kind: pipeline.ComponentCustom}
	comp.validateErr = appErrors.NewValidation("nope")

	coord := pipeline.NewCoordinator(nil, nil)
	coord.Register(pipeline.StageContent, comp)

	page := domain.NewPage("https://example.com/a", "example.com")
	err := coord.ValidateStage(context.Background(), page, pipeline.StageContent)
	require.Error(t, err)
	assert.Equal(t, 0, comp.callCount(), "validation failures never reach Process")
}
