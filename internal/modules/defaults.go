package modules

import (
	"time"

	"github.com/sells-group/insight-cli/internal/orchestrator"
	"github.com/sells-group/insight-cli/internal/quality"
)

// DefaultConfigs is the stock scheduling policy: data-gathering analyses run
// at high priority, the recommendation waits on all of them.
func DefaultConfigs() []orchestrator.ModuleConfig {
	return []orchestrator.ModuleConfig{
		{Name: "fundamentals", Priority: 8, MaxRetries: 3, Timeout: 90 * time.Second, FallbackEnabled: true},
		{Name: "technical", Priority: 7, MaxRetries: 3, Timeout: 60 * time.Second, FallbackEnabled: true},
		{Name: "sentiment", Priority: 5, MaxRetries: 2, Timeout: 45 * time.Second, FallbackEnabled: false},
		{Name: "news", Priority: 6, MaxRetries: 3, Timeout: 60 * time.Second, FallbackEnabled: true},
		{
			Name:            "recommendation",
			Priority:        9,
			MaxRetries:      3,
			Timeout:         120 * time.Second,
			FallbackEnabled: true,
			Dependencies:    []string{"fundamentals", "technical", "sentiment", "news"},
		},
	}
}

func floatPtr(f float64) *float64 { return &f }

// RuleSets declares what a well-formed output of each module looks like.
// Missing keys cut completeness, an out-of-range confidence cuts accuracy.
func RuleSets() []quality.RuleSet {
	confidence := quality.Rule{Field: "confidence", Required: true, Type: "number", Min: floatPtr(0), Max: floatPtr(1)}

	return []quality.RuleSet{
		{
			Kind: "fundamentals",
			Rules: []quality.Rule{
				{Field: "verdict", Required: true, Type: "string", Pattern: "^(undervalued|fair|overvalued)$"},
				confidence,
				{Field: "pe_assessment", Required: true, Type: "string"},
				{Field: "key_risks", Required: false, Type: "array"},
			},
		},
		{
			Kind: "technical",
			Rules: []quality.Rule{
				{Field: "trend", Required: true, Type: "string", Pattern: "^(bullish|neutral|bearish)$"},
				confidence,
				{Field: "support", Required: false, Type: "number"},
				{Field: "resistance", Required: false, Type: "number"},
			},
		},
		{
			Kind: "sentiment",
			Rules: []quality.Rule{
				{Field: "sentiment", Required: true, Type: "string", Pattern: "^(positive|neutral|negative)$"},
				confidence,
			},
		},
		{
			Kind: "news",
			Rules: []quality.Rule{
				{Field: "summary", Required: true, Type: "string"},
				{Field: "impact", Required: true, Type: "string", Pattern: "^(positive|neutral|negative)$"},
				confidence,
			},
		},
		{
			Kind: "recommendation",
			Rules: []quality.Rule{
				{Field: "action", Required: true, Type: "string", Pattern: "^(buy|hold|sell)$"},
				confidence,
				{Field: "rationale", Required: true, Type: "string"},
			},
		},
	}
}
