package pipeline

import "time"

// Stage names one step of the pipeline.
type Stage string

const (
	StageInitialize Stage = "initialize"
	StageMetadata   Stage = "metadata"
	StageContent    Stage = "content"
	StageAnalysis   Stage = "analysis"
	StageStorage    Stage = "storage"
	StageComplete   Stage = "complete"
	StageError      Stage = "error"
)

// StageSequence is the fixed processing order. complete and error are
// terminal markers, never executed as stages.
func StageSequence() []Stage {
	return []Stage{StageInitialize, StageMetadata, StageContent, StageAnalysis, StageStorage}
}

// RetryPolicy governs per-component retries within a stage.
type RetryPolicy struct {
	MaxAttempts        int
	Delay              time.Duration
	MaxDelay           time.Duration
	ExponentialBackoff bool
}

// DefaultRetryPolicy returns the per-component retry defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:        3,
		Delay:              1 * time.Second,
		MaxDelay:           8 * time.Second,
		ExponentialBackoff: true,
	}
}

// StageConfig is the per-stage execution policy.
type StageConfig struct {
	Timeout              time.Duration
	Required             bool
	ConcurrentComponents bool
	ValidationRequired   bool
	Retry                RetryPolicy
}

// DefaultStageConfigs returns the per-stage defaults: every stage required,
// components concurrent, validation on, with stage-specific timeouts.
func DefaultStageConfigs() map[Stage]StageConfig {
	timeouts := map[Stage]time.Duration{
		StageInitialize: 5 * time.Second,
		StageMetadata:   30 * time.Second,
		StageContent:    60 * time.Second,
		StageAnalysis:   120 * time.Second,
		StageStorage:    30 * time.Second,
	}
	configs := make(map[Stage]StageConfig, len(timeouts))
	for stage, timeout := range timeouts {
		configs[stage] = StageConfig{
			Timeout:              timeout,
			Required:             true,
			ConcurrentComponents: true,
			ValidationRequired:   true,
			Retry:                DefaultRetryPolicy(),
		}
	}
	return configs
}
