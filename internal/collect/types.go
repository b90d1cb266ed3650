package collect

import (
	"context"
	"time"
)

// TimeoutStrategy scales each source's base timeout during a collection phase.
type TimeoutStrategy string

const (
	TimeoutAggressive TimeoutStrategy = "aggressive" // 0.5x base timeout
	TimeoutBalanced   TimeoutStrategy = "balanced"   // 1x base timeout
	TimeoutPatient    TimeoutStrategy = "patient"    // 1.5x base timeout
)

// Multiplier returns the timeout scale factor. Unknown values behave as balanced.
func (s TimeoutStrategy) Multiplier() float64 {
	switch s {
	case TimeoutAggressive:
		return 0.5
	case TimeoutPatient:
		return 1.5
	default:
		return 1.0
	}
}

// Strategy describes one collection request: which sources must succeed, which
// are worth escalating to, and how hard to push on timeouts and concurrency.
type Strategy struct {
	RequiredSources  []string        `yaml:"required_sources" mapstructure:"required_sources"`
	PreferredSources []string        `yaml:"preferred_sources" mapstructure:"preferred_sources"`
	FallbackSources  []string        `yaml:"fallback_sources" mapstructure:"fallback_sources"`
	MinQualityScore  float64         `yaml:"min_quality_score" mapstructure:"min_quality_score"`
	Timeout          TimeoutStrategy `yaml:"timeout_strategy" mapstructure:"timeout_strategy"`
	MaxConcurrent    int             `yaml:"max_concurrent_requests" mapstructure:"max_concurrent_requests"`
}

// Source fetches one payload for a target key.
type Source interface {
	Name() string
	Fetch(ctx context.Context, key string) (map[string]any, error)
}

// FallbackProvider is an optional Source capability: static data served when
// the live call has exhausted its retries. Returning nil means no fallback.
type FallbackProvider interface {
	FallbackData(key string) map[string]any
}

// SourceResult is the immutable outcome of one source attempt.
type SourceResult struct {
	Source   string         `json:"source"`
	Success  bool           `json:"success"`
	Data     map[string]any `json:"data,omitempty"`
	Err      error          `json:"-"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
	Quality  float64        `json:"quality_score"`
	Weight   float64        `json:"weight"`

	// Synthetic marks results produced from a source's FallbackData rather
	// than a live call. Synthetic results never clear a required-source failure.
	Synthetic bool `json:"synthetic,omitempty"`
}

// CollectionResult aggregates one collect call. Recomputed per call, never stored.
type CollectionResult struct {
	Results               []SourceResult            `json:"results"`
	Data                  map[string]map[string]any `json:"data"`
	OverallQuality        float64                   `json:"overall_quality_score"`
	Success               bool                      `json:"success"`
	PartialSuccess        bool                      `json:"partial_success"`
	CriticalSourcesFailed []string                  `json:"critical_sources_failed,omitempty"`
}
