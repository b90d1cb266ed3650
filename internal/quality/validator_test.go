package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func float64Ptr(v float64) *float64 { return &v }

func quoteRules() RuleSet {
	return RuleSet{
		Kind: "quote",
		Rules: []Rule{
			{Field: "symbol", Required: true, Type: "string", Pattern: `^[A-Z.]{1,6}$`},
			{Field: "price", Required: true, Type: "number", Min: float64Ptr(0)},
			{Field: "volume", Required: false, Type: "number", Min: float64Ptr(0)},
			{Field: "confidence", Required: false, Type: "number", Min: float64Ptr(0), Max: float64Ptr(1)},
		},
		ExtremeChangeField: "change_percent",
		ExtremeChangeLimit: 20,
	}
}

func newsRules() RuleSet {
	return RuleSet{
		Kind: "article",
		Rules: []Rule{
			{Field: "title", Required: true, Type: "string"},
			{Field: "url", Required: true, Type: "string", Pattern: `^https?://`},
		},
		FreshnessField:  "published_at",
		FreshnessMaxAge: 7 * 24 * time.Hour,
		TitleField:      "title",
	}
}

func TestValidate_CleanPayloadScoresFull(t *testing.T) {
	v := NewValidator([]RuleSet{quoteRules()}, NewReliabilityTracker(map[string]float64{"quote-api": 100}))

	m := v.Validate("quote", "quote-api", map[string]any{
		"symbol": "ACME",
		"price":  42.5,
		"volume": 1000.0,
	})

	assert.Equal(t, 100.0, m.Completeness)
	assert.Equal(t, 100.0, m.Accuracy)
	assert.Equal(t, 100.0, m.Reliability)
	assert.Empty(t, m.Issues)
}

func TestValidate_MissingRequiredReducesCompleteness(t *testing.T) {
	v := NewValidator([]RuleSet{quoteRules()}, nil)

	m := v.Validate("quote", "quote-api", map[string]any{
		"symbol": "ACME",
	})

	// One of two required fields missing: completeness halves.
	assert.Equal(t, 50.0, m.Completeness)
	assert.Equal(t, 100.0, m.Accuracy)
	require.Len(t, m.Issues, 1)
	assert.Contains(t, m.Issues[0], `"price"`)
}

func TestValidate_AccuracyPenalties(t *testing.T) {
	v := NewValidator([]RuleSet{quoteRules()}, nil)

	tests := []struct {
		name     string
		payload  map[string]any
		accuracy float64
	}{
		{
			"wrong type",
			map[string]any{"symbol": "ACME", "price": "not a number"},
			85,
		},
		{
			"out of range",
			map[string]any{"symbol": "ACME", "price": -1.0},
			90,
		},
		{
			"pattern mismatch",
			map[string]any{"symbol": "lowercase", "price": 10.0},
			90,
		},
		{
			"confidence above 1",
			map[string]any{"symbol": "ACME", "price": 10.0, "confidence": 1.7},
			90,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := v.Validate("quote", "quote-api", tt.payload)
			assert.Equal(t, tt.accuracy, m.Accuracy)
			assert.NotEmpty(t, m.Issues)
		})
	}
}

func TestValidate_ExtremeMoveReducesConsistency(t *testing.T) {
	v := NewValidator([]RuleSet{quoteRules()}, nil)

	m := v.Validate("quote", "quote-api", map[string]any{
		"symbol":         "ACME",
		"price":          10.0,
		"change_percent": -35.0,
	})

	assert.Equal(t, 80.0, m.Consistency)
	require.Len(t, m.Issues, 1)
	assert.Contains(t, m.Issues[0], "extreme move")
}

func TestValidate_StaleArticleReducesFreshness(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	v := NewValidator([]RuleSet{newsRules()}, nil)
	v.nowFunc = func() time.Time { return now }

	fresh := v.Validate("article", "news-api", map[string]any{
		"title":        "Quarterly results",
		"url":          "https://example.com/a",
		"published_at": now.Add(-24 * time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, 100.0, fresh.Freshness)

	stale := v.Validate("article", "news-api", map[string]any{
		"title":        "Old coverage",
		"url":          "https://example.com/b",
		"published_at": now.Add(-10 * 24 * time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, 70.0, stale.Freshness)

	ancient := v.Validate("article", "news-api", map[string]any{
		"title":        "Archive piece",
		"url":          "https://example.com/c",
		"published_at": now.Add(-60 * 24 * time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, 40.0, ancient.Freshness)
}

func feedRules() RuleSet {
	return RuleSet{
		Kind: "news",
		Rules: []Rule{
			{Field: "symbol", Required: true, Type: "string"},
			{Field: "articles", Required: true, Type: "array"},
		},
		BatchField: "articles",
		TitleField: "title",
	}
}

func TestValidate_DuplicateTitlesCutConsistency(t *testing.T) {
	v := NewValidator([]RuleSet{feedRules()}, nil)

	m := v.Validate("news", "news-api", map[string]any{
		"symbol": "ACME",
		"articles": []map[string]any{
			{"title": "Merger announced", "url": "https://a.example.com"},
			{"title": "Merger announced", "url": "https://b.example.com"},
			{"title": "Merger announced", "url": "https://c.example.com"},
			{"title": "Unrelated story", "url": "https://d.example.com"},
		},
	})

	// Two repeats of the same title: 100 - 2*15.
	assert.Equal(t, 70.0, m.Consistency)
	require.Len(t, m.Issues, 1)
	assert.Contains(t, m.Issues[0], "duplicate title")
}

func TestValidate_BatchHandlesDecodedJSONArrays(t *testing.T) {
	v := NewValidator([]RuleSet{feedRules()}, nil)

	// json.Unmarshal produces []any, adapter code produces []map[string]any;
	// both shapes must satisfy the array rule and the duplicate check.
	m := v.Validate("news", "news-api", map[string]any{
		"symbol": "ACME",
		"articles": []any{
			map[string]any{"title": "Earnings beat"},
			map[string]any{"title": "Earnings beat"},
		},
	})

	assert.Equal(t, 100.0, m.Accuracy)
	assert.Equal(t, 85.0, m.Consistency)
}

func TestValidate_UniqueTitlesKeepConsistency(t *testing.T) {
	v := NewValidator([]RuleSet{feedRules()}, nil)

	m := v.Validate("news", "news-api", map[string]any{
		"symbol": "ACME",
		"articles": []map[string]any{
			{"title": "Merger announced"},
			{"title": "Unrelated story"},
		},
	})

	assert.Equal(t, 100.0, m.Consistency)
	assert.Empty(t, m.Issues)
}

func TestValidate_ReliabilityWeights(t *testing.T) {
	v := NewValidator([]RuleSet{quoteRules()}, NewReliabilityTracker(map[string]float64{"quote-api": 50}))

	m := v.Validate("quote", "quote-api", map[string]any{
		"symbol": "ACME",
		"price":  10.0,
	})

	// All dimensions 100 except confidence 50:
	// 0.25*100 + 0.30*100 + 0.20*100 + 0.15*100 + 0.10*50 = 95.
	assert.InDelta(t, 95.0, m.Reliability, 1e-9)
	assert.InDelta(t, 0.95, m.Score(), 1e-9)
}

func TestValidate_MetricsNeverNegative(t *testing.T) {
	rs := RuleSet{
		Kind: "strict",
		Rules: []Rule{
			{Field: "a", Required: true},
			{Field: "b", Required: true},
			{Field: "c", Required: true},
		},
	}
	v := NewValidator([]RuleSet{rs}, nil)

	m := v.Validate("strict", "src", map[string]any{})
	assert.Equal(t, 0.0, m.Completeness)
	assert.GreaterOrEqual(t, m.Reliability, 0.0)
}

func TestValidate_UnknownKind(t *testing.T) {
	v := NewValidator(nil, NewReliabilityTracker(map[string]float64{"src": 90}))
	m := v.Validate("mystery", "src", map[string]any{"anything": 1})
	assert.Equal(t, 100.0, m.Completeness)
	assert.Equal(t, 90.0, m.Confidence)
}

func TestReliabilityTracker_Nudges(t *testing.T) {
	tr := NewReliabilityTracker(map[string]float64{"quote-api": 50})

	tr.RecordSuccess("quote-api")
	assert.Equal(t, 52.0, tr.Score("quote-api"))

	tr.RecordFailure("quote-api")
	assert.Equal(t, 47.0, tr.Score("quote-api"))

	// Clamped at bounds.
	for i := 0; i < 30; i++ {
		tr.RecordFailure("quote-api")
	}
	assert.Equal(t, 0.0, tr.Score("quote-api"))

	for i := 0; i < 100; i++ {
		tr.RecordSuccess("quote-api")
	}
	assert.Equal(t, 100.0, tr.Score("quote-api"))

	// Unknown sources start at the default prior.
	assert.Equal(t, 80.0, tr.Score("brand-new"))
}
