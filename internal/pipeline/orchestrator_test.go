package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagegraph-backend/internal/domain"
	"pagegraph-backend/internal/pipeline"
	appErrors "pagegraph-backend/pkg/errors"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantDomain string
		wantErr    bool
	}{
		{"simple host", "https://example.com/a", "example.com", false},
		{"subdomain trims to last two labels", "https://blog.sub.example.com/x", "example.com", false},
		{"single label host", "http://localhost:8080/", "localhost", false},
		{"file URL", "file:///tmp/notes.html", "localhost", false},
		{"missing scheme", "example.com/a", "", true},
		{"uppercase host lowers", "https://EXAMPLE.com", "example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, domain_, err := pipeline.NormalizeURL(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDomain, domain_)
		})
	}
}

// collectEvents subscribes a recorder and returns the observed sequence.
func collectEvents(emitter *pipeline.Emitter) *[]string {
	seq := &[]string{}
	emitter.Subscribe(func(e pipeline.Event) {
		*seq = append(*seq, string(e.Type)+":"+string(e.Stage))
	})
	return seq
}

func passthroughCoordinator(t *testing.T) *pipeline.Coordinator {
	t.Helper()
	coord := pipeline.NewCoordinator(nil, nil)
	for _, stage := range pipeline.StageSequence() {
		coord.Register(stage, &fakeComponent{name: string(stage) + "-comp", kind: pipeline.ComponentCustom})
	}
	return coord
}

func TestProcessPageEventOrdering(t *testing.T) {
	coord := passthroughCoordinator(t)
	emitter := pipeline.NewEmitter(true, nil)
	seq := collectEvents(emitter)
	orch := pipeline.NewOrchestrator(coord, emitter, nil)

	page, err := orch.ProcessPage(context.Background(), "https://example.com/a", "some content")
	require.NoError(t, err)
	assert.Equal(t, domain.PageStatusActive, page.Status)

	want := []string{
		"stage-start:initialize", "stage-end:initialize",
		"stage-start:metadata", "stage-end:metadata",
		"stage-start:content", "stage-end:content",
		"stage-start:analysis", "stage-end:analysis",
		"stage-start:storage", "stage-end:storage",
		"complete:complete",
	}
	assert.Equal(t, want, *seq)
}

func TestProcessPageStageTimeout(t *testing.T) {
	coord := pipeline.NewCoordinator(map[pipeline.Stage]pipeline.StageConfig{
		pipeline.StageAnalysis: {
			Timeout:            1 * time.Second,
			Required:           true,
			ValidationRequired: true,
			Retry:              pipeline.RetryPolicy{MaxAttempts: 1},
		},
	}, nil)
	// The component sleeps well past the stage deadline.
	coord.Register(pipeline.StageAnalysis, &fakeComponent{
		name: "sleeper", kind: pipeline.ComponentKeyword, sleep: 5 * time.Second,
	})

	emitter := pipeline.NewEmitter(true, nil)
	seq := collectEvents(emitter)
	orch := pipeline.NewOrchestrator(coord, emitter, nil)

	start := time.Now()
	page, err := orch.ProcessPage(context.Background(), "https://example.com/slow", "content")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, appErrors.IsTimeout(err))
	assert.Less(t, elapsed, 3*time.Second, "timeout must fire at the stage deadline, not the sleep")

	require.NotNil(t, page)
	assert.Equal(t, domain.PageStatusError, page.Status)
	assert.Contains(t, page.Errors, "analysis timed out after 1s")
	assert.Contains(t, *seq, "stage-error:analysis")
}

func TestProcessPageOptionalStageContinues(t *testing.T) {
	coord := pipeline.NewCoordinator(map[pipeline.Stage]pipeline.StageConfig{
		pipeline.StageMetadata: {
			Timeout:            time.Second,
			Required:           false,
			ValidationRequired: true,
			Retry:              pipeline.RetryPolicy{MaxAttempts: 1},
		},
	}, nil)
	coord.Register(pipeline.StageMetadata, &fakeComponent{
		name:        "picky",
		kind:        pipeline.ComponentMetadata,
		validateErr: appErrors.NewValidation("metadata missing"),
	})
	coord.Register(pipeline.StageStorage, &fakeComponent{name: "sink", kind: pipeline.ComponentStorage})

	emitter := pipeline.NewEmitter(true, nil)
	seq := collectEvents(emitter)
	orch := pipeline.NewOrchestrator(coord, emitter, nil)

	page, err := orch.ProcessPage(context.Background(), "https://example.com/a", "content")
	require.NoError(t, err, "optional stage failure must not abort the pipeline")
	assert.Equal(t, domain.PageStatusActive, page.Status)
	assert.Contains(t, *seq, "stage-error:metadata")
	assert.Contains(t, *seq, "complete:complete")
}

func TestProcessPageRequiredValidationFailure(t *testing.T) {
	coord := pipeline.NewCoordinator(nil, nil)
	coord.Register(pipeline.StageContent, &fakeComponent{
		name:        "content",
		kind:        pipeline.ComponentContent,
		validateErr: appErrors.NewValidationf("content validation failed: length %d < %d", 50, 100),
	})

	orch := pipeline.NewOrchestrator(coord, pipeline.NewEmitter(false, nil), nil)
	page, err := orch.ProcessPage(context.Background(), "https://example.com/a", "short")

	require.Error(t, err)
	require.NotNil(t, page)
	assert.Equal(t, domain.PageStatusError, page.Status)
	assert.Equal(t, []string{"content validation failed: length 50 < 100"}, page.Errors)
}

func TestAbortProcessing(t *testing.T) {
	orch := pipeline.NewOrchestrator(pipeline.NewCoordinator(nil, nil), pipeline.NewEmitter(false, nil), nil)
	page := domain.NewPage("https://example.com/a", "example.com")

	orch.AbortProcessing(page)
	assert.Equal(t, domain.PageStatusError, page.Status)
	assert.Contains(t, page.Errors, "aborted")
}
