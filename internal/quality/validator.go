// Package quality scores collected payloads across completeness, accuracy,
// freshness, consistency, and source confidence dimensions.
package quality

import (
	"fmt"
	"math"
	"regexp"
	"time"
)

// Reliability dimension weights. Must sum to 1.0.
const (
	weightCompleteness = 0.25
	weightAccuracy     = 0.30
	weightFreshness    = 0.20
	weightConsistency  = 0.15
	weightConfidence   = 0.10
)

// Default deductions, applied additively against a 100-point baseline.
const (
	penaltyWrongType    = 15
	penaltyOutOfRange   = 10
	penaltyPatternMiss  = 10
	penaltyStale        = 30
	penaltyVeryStale    = 30 // on top of penaltyStale
	penaltyDuplicate    = 15
	penaltyExtremeMove  = 20
	defaultExtremeLimit = 20 // percent
)

// Rule declares the expectation for one field of a payload kind.
type Rule struct {
	Field    string   `yaml:"field" mapstructure:"field"`
	Required bool     `yaml:"required" mapstructure:"required"`
	Type     string   `yaml:"type" mapstructure:"type"` // string|number|bool|array|object
	Min      *float64 `yaml:"min" mapstructure:"min"`
	Max      *float64 `yaml:"max" mapstructure:"max"`
	Pattern  string   `yaml:"pattern" mapstructure:"pattern"`
}

// RuleSet bundles the rules for one payload kind plus the fields the domain
// heuristics inspect.
type RuleSet struct {
	Kind  string `yaml:"kind" mapstructure:"kind"`
	Rules []Rule `yaml:"rules" mapstructure:"rules"`

	// FreshnessField names a timestamp field (RFC 3339 or time.Time); payloads
	// older than FreshnessMaxAge lose freshness points.
	FreshnessField  string        `yaml:"freshness_field" mapstructure:"freshness_field"`
	FreshnessMaxAge time.Duration `yaml:"freshness_max_age" mapstructure:"freshness_max_age"`

	// BatchField names an array field whose entries are checked as a batch;
	// TitleField names the entry field checked for duplicates. Each repeated
	// title after the first costs the aggregate payload consistency points.
	BatchField string `yaml:"batch_field" mapstructure:"batch_field"`
	TitleField string `yaml:"title_field" mapstructure:"title_field"`

	// ExtremeChangeField names a percent-change field; absolute values above
	// ExtremeChangeLimit are flagged and penalize consistency.
	ExtremeChangeField string  `yaml:"extreme_change_field" mapstructure:"extreme_change_field"`
	ExtremeChangeLimit float64 `yaml:"extreme_change_limit" mapstructure:"extreme_change_limit"`
}

// Metrics holds the per-dimension scores (0–100) for one validated payload.
type Metrics struct {
	Completeness float64  `json:"completeness"`
	Accuracy     float64  `json:"accuracy"`
	Freshness    float64  `json:"freshness"`
	Consistency  float64  `json:"consistency"`
	Confidence   float64  `json:"confidence"`
	Reliability  float64  `json:"reliability"`
	Issues       []string `json:"issues,omitempty"`
}

// Score normalizes reliability to the 0–1 range used by collection results.
func (m *Metrics) Score() float64 {
	return m.Reliability / 100
}

func (m *Metrics) addIssue(format string, args ...any) {
	m.Issues = append(m.Issues, fmt.Sprintf(format, args...))
}

// Validator validates payloads against per-kind rule sets and folds in the
// per-source confidence prior.
type Validator struct {
	ruleSets map[string]RuleSet
	tracker  *ReliabilityTracker

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewValidator creates a Validator for the given rule sets. A nil tracker gets
// a fresh one with default priors.
func NewValidator(ruleSets []RuleSet, tracker *ReliabilityTracker) *Validator {
	if tracker == nil {
		tracker = NewReliabilityTracker(nil)
	}
	byKind := make(map[string]RuleSet, len(ruleSets))
	for _, rs := range ruleSets {
		byKind[rs.Kind] = rs
	}
	return &Validator{
		ruleSets: byKind,
		tracker:  tracker,
		nowFunc:  time.Now,
	}
}

// Tracker exposes the per-source reliability tracker so callers can record
// fetch outcomes.
func (v *Validator) Tracker() *ReliabilityTracker { return v.tracker }

// Validate scores a single payload of the given kind from the given source.
// Unknown kinds score on confidence alone (no rules to violate).
func (v *Validator) Validate(kind, source string, payload map[string]any) *Metrics {
	m := &Metrics{
		Completeness: 100,
		Accuracy:     100,
		Freshness:    100,
		Consistency:  100,
		Confidence:   v.tracker.Score(source),
	}

	rs, ok := v.ruleSets[kind]
	if ok {
		v.applyRules(rs, payload, m)
		v.applyFreshness(rs, payload, m)
		v.applyExtremeMove(rs, payload, m)
		v.applyBatch(rs, payload, m)
	}

	m.Completeness = clamp(m.Completeness)
	m.Accuracy = clamp(m.Accuracy)
	m.Freshness = clamp(m.Freshness)
	m.Consistency = clamp(m.Consistency)
	m.Confidence = clamp(m.Confidence)
	m.Reliability = clamp(
		weightCompleteness*m.Completeness +
			weightAccuracy*m.Accuracy +
			weightFreshness*m.Freshness +
			weightConsistency*m.Consistency +
			weightConfidence*m.Confidence,
	)
	return m
}

// applyRules walks the rule list: missing required fields cut completeness
// proportionally; type, range, and pattern violations cut accuracy.
func (v *Validator) applyRules(rs RuleSet, payload map[string]any, m *Metrics) {
	required := 0
	for _, r := range rs.Rules {
		if r.Required {
			required++
		}
	}
	missingPenalty := 100.0
	if required > 0 {
		missingPenalty = 100.0 / float64(required)
	}

	for _, r := range rs.Rules {
		val, present := payload[r.Field]
		if !present || val == nil {
			if r.Required {
				m.Completeness -= missingPenalty
				m.addIssue("missing required field %q", r.Field)
			}
			continue
		}

		if r.Type != "" && !typeMatches(r.Type, val) {
			m.Accuracy -= penaltyWrongType
			m.addIssue("field %q: expected %s, got %T", r.Field, r.Type, val)
			continue
		}

		if num, isNum := toFloat(val); isNum {
			if r.Min != nil && num < *r.Min {
				m.Accuracy -= penaltyOutOfRange
				m.addIssue("field %q: %v below minimum %v", r.Field, num, *r.Min)
			}
			if r.Max != nil && num > *r.Max {
				m.Accuracy -= penaltyOutOfRange
				m.addIssue("field %q: %v above maximum %v", r.Field, num, *r.Max)
			}
		}

		if r.Pattern != "" {
			if s, isStr := val.(string); isStr {
				re, err := regexp.Compile(r.Pattern)
				if err == nil && !re.MatchString(s) {
					m.Accuracy -= penaltyPatternMiss
					m.addIssue("field %q does not match pattern %q", r.Field, r.Pattern)
				}
			}
		}
	}
}

func (v *Validator) applyFreshness(rs RuleSet, payload map[string]any, m *Metrics) {
	if rs.FreshnessField == "" {
		return
	}
	maxAge := rs.FreshnessMaxAge
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}

	ts, ok := toTime(payload[rs.FreshnessField])
	if !ok {
		return
	}
	age := v.nowFunc().Sub(ts)
	if age > maxAge {
		m.Freshness -= penaltyStale
		m.addIssue("payload is stale: %s old (max %s)", age.Round(time.Hour), maxAge)
	}
	if age > 4*maxAge {
		m.Freshness -= penaltyVeryStale
	}
}

func (v *Validator) applyExtremeMove(rs RuleSet, payload map[string]any, m *Metrics) {
	if rs.ExtremeChangeField == "" {
		return
	}
	limit := rs.ExtremeChangeLimit
	if limit <= 0 {
		limit = defaultExtremeLimit
	}
	if num, ok := toFloat(payload[rs.ExtremeChangeField]); ok && math.Abs(num) > limit {
		m.Consistency -= penaltyExtremeMove
		m.addIssue("extreme move: %s changed %.1f%% (limit %.1f%%)", rs.ExtremeChangeField, num, limit)
	}
}

// applyBatch checks cross-entry heuristics over the payload's batch field:
// each repeated title after the first cuts consistency.
func (v *Validator) applyBatch(rs RuleSet, payload map[string]any, m *Metrics) {
	if rs.BatchField == "" || rs.TitleField == "" {
		return
	}
	entries := batchEntries(payload[rs.BatchField])
	seen := make(map[string]bool, len(entries))
	dups := 0
	for _, entry := range entries {
		title, ok := entry[rs.TitleField].(string)
		if !ok || title == "" {
			continue
		}
		if seen[title] {
			dups++
		}
		seen[title] = true
	}
	if dups > 0 {
		m.Consistency -= float64(dups) * penaltyDuplicate
		m.addIssue("%d duplicate %s entries in %s", dups, rs.TitleField, rs.BatchField)
	}
}

// batchEntries normalizes the two array shapes payloads carry: decoded JSON
// gives []any, adapter-built payloads give []map[string]any.
func batchEntries(val any) []map[string]any {
	switch items := val.(type) {
	case []map[string]any:
		return items
	case []any:
		out := make([]map[string]any, 0, len(items))
		for _, it := range items {
			if entry, ok := it.(map[string]any); ok {
				out = append(out, entry)
			}
		}
		return out
	default:
		return nil
	}
}

func typeMatches(kind string, val any) bool {
	switch kind {
	case "string":
		_, ok := val.(string)
		return ok
	case "number":
		_, ok := toFloat(val)
		return ok
	case "bool":
		_, ok := val.(bool)
		return ok
	case "array":
		switch val.(type) {
		case []any, []map[string]any:
			return true
		}
		return false
	case "object":
		_, ok := val.(map[string]any)
		return ok
	default:
		return true
	}
}

func toFloat(val any) (float64, bool) {
	switch n := val.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toTime(val any) (time.Time, bool) {
	switch t := val.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
