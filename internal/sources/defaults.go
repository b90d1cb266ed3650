package sources

import (
	"time"

	"github.com/sells-group/insight-cli/internal/collect"
	"github.com/sells-group/insight-cli/internal/quality"
)

func floatPtr(f float64) *float64 { return &f }

// DefaultCatalog describes the stock source lineup: live quotes carry the
// most weight, the FTP archive the least.
func DefaultCatalog() []collect.SourceSpec {
	return []collect.SourceSpec{
		{Name: "quote", Kind: "quote", Weight: 0.35, BaseTimeout: 5 * time.Second},
		{Name: "news", Kind: "news", Weight: 0.25, BaseTimeout: 10 * time.Second},
		{Name: "filings", Kind: "filings", Weight: 0.20, BaseTimeout: 10 * time.Second},
		{Name: "sentiment", Kind: "sentiment", Weight: 0.10, BaseTimeout: 8 * time.Second},
		{Name: "archive", Kind: "archive", Weight: 0.10, BaseTimeout: 20 * time.Second},
	}
}

// RuleSets returns validation rules for each source payload kind.
func RuleSets() []quality.RuleSet {
	return []quality.RuleSet{
		{
			Kind: "quote",
			Rules: []quality.Rule{
				{Field: "symbol", Required: true, Type: "string"},
				{Field: "price", Required: true, Type: "number", Min: floatPtr(0)},
				{Field: "volume", Type: "number", Min: floatPtr(0)},
				{Field: "change_percent", Type: "number"},
			},
			FreshnessField:     "as_of",
			FreshnessMaxAge:    24 * time.Hour,
			ExtremeChangeField: "change_percent",
			ExtremeChangeLimit: 20,
		},
		{
			Kind: "news",
			Rules: []quality.Rule{
				{Field: "symbol", Required: true, Type: "string"},
				{Field: "articles", Required: true, Type: "array"},
				{Field: "article_count", Type: "number", Min: floatPtr(0)},
			},
			BatchField: "articles",
			TitleField: "title",
		},
		{
			Kind: "filings",
			Rules: []quality.Rule{
				{Field: "symbol", Required: true, Type: "string"},
				{Field: "filings", Required: true, Type: "array"},
			},
		},
		{
			Kind: "sentiment",
			Rules: []quality.Rule{
				{Field: "sentiment_score", Required: true, Type: "number", Min: floatPtr(-1), Max: floatPtr(1)},
				{Field: "mention_count", Type: "number", Min: floatPtr(0)},
			},
		},
		{
			Kind: "archive",
			Rules: []quality.Rule{
				{Field: "symbol", Required: true, Type: "string"},
			},
		},
	}
}
