package modules

import (
	"github.com/sells-group/insight-cli/internal/orchestrator"
	"github.com/sells-group/insight-cli/pkg/anthropic"
)

const fundamentalsPrompt = `You are an equity fundamentals analyst. Given quote,
filings, and financial data for a symbol, produce a JSON object with keys:
"verdict" (string: undervalued|fair|overvalued), "confidence" (number 0-1),
"pe_assessment" (string), "revenue_trend" (string), "key_risks" (array of strings).`

const technicalPrompt = `You are a technical analyst. Given recent price and
volume data for a symbol, produce a JSON object with keys: "trend" (string:
bullish|neutral|bearish), "confidence" (number 0-1), "support" (number),
"resistance" (number), "signals" (array of strings).`

const sentimentPrompt = `You are a market sentiment analyst. Given social and
news sentiment data for a symbol, produce a JSON object with keys: "sentiment"
(string: positive|neutral|negative), "confidence" (number 0-1), "momentum"
(string), "notable_mentions" (array of strings).`

const newsPrompt = `You are a financial news analyst. Given recent headlines
for a symbol, produce a JSON object with keys: "summary" (string), "confidence"
(number 0-1), "impact" (string: positive|neutral|negative), "events" (array of
strings naming material events).`

const recommendationPrompt = `You are a portfolio strategist. Given the outputs
of the fundamentals, technical, sentiment, and news analyses for a symbol,
produce a JSON object with keys: "action" (string: buy|hold|sell), "confidence"
(number 0-1), "rationale" (string), "horizon" (string).`

// NewFundamentals analyzes valuation and financial health.
func NewFundamentals(client anthropic.Client) orchestrator.Module {
	return &aiModule{
		name:         "fundamentals",
		client:       client,
		model:        defaultModel,
		systemPrompt: fundamentalsPrompt,
		maxTokens:    defaultMaxTokens,
	}
}

// NewTechnical analyzes price action.
func NewTechnical(client anthropic.Client) orchestrator.Module {
	return &aiModule{
		name:         "technical",
		client:       client,
		model:        defaultModel,
		systemPrompt: technicalPrompt,
		maxTokens:    defaultMaxTokens,
	}
}

// NewSentiment analyzes social and news sentiment.
func NewSentiment(client anthropic.Client) orchestrator.Module {
	return &aiModule{
		name:         "sentiment",
		client:       client,
		model:        fallbackModel,
		systemPrompt: sentimentPrompt,
		maxTokens:    defaultMaxTokens,
	}
}

// NewNews summarizes recent headlines and their likely impact.
func NewNews(client anthropic.Client) orchestrator.Module {
	return &aiModule{
		name:         "news",
		client:       client,
		model:        fallbackModel,
		systemPrompt: newsPrompt,
		maxTokens:    defaultMaxTokens,
	}
}

// NewRecommendation synthesizes the other modules' outputs into an action.
// It depends on their outputs being merged into its input by the orchestrator.
func NewRecommendation(client anthropic.Client) orchestrator.Module {
	return &aiModule{
		name:         "recommendation",
		client:       client,
		model:        defaultModel,
		systemPrompt: recommendationPrompt,
		maxTokens:    2048,
	}
}
