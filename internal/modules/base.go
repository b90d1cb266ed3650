// Package modules holds the AI analysis modules scheduled by the
// orchestrator. Each module sends one prompt per call and expects a JSON
// object back; everything else (retries, fallback, rate limits, auditing)
// is the orchestrator's job.
package modules

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-cli/internal/cost"
	"github.com/sells-group/insight-cli/internal/orchestrator"
	"github.com/sells-group/insight-cli/pkg/anthropic"
)

// pricing converts token usage to dollars for Output.CostUSD.
var pricing = cost.NewCalculator(cost.DefaultRates())

const (
	defaultModel  = "claude-sonnet-4-5-20250929"
	fallbackModel = "claude-haiku-4-5-20251001"

	defaultMaxTokens = 1024
)

// aiModule is the shared scaffolding for prompt-driven modules. The fallback
// path reruns the same prompt on a cheaper model.
type aiModule struct {
	name         string
	client       anthropic.Client
	model        string
	systemPrompt string
	maxTokens    int64
}

func (m *aiModule) Name() string     { return m.name }
func (m *aiModule) Resource() string { return m.model }

func (m *aiModule) Analyze(ctx context.Context, key string, input orchestrator.Input) (*orchestrator.Output, error) {
	return m.runPrompt(ctx, m.model, key, input)
}

func (m *aiModule) AnalyzeFallback(ctx context.Context, key string, input orchestrator.Input) (*orchestrator.Output, error) {
	return m.runPrompt(ctx, fallbackModel, key, input)
}

func (m *aiModule) runPrompt(ctx context.Context, model, key string, input orchestrator.Input) (*orchestrator.Output, error) {
	userMsg, err := buildUserMessage(key, input)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     model,
		MaxTokens: m.maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(m.systemPrompt),
		Messages:  []anthropic.Message{{Role: "user", Content: userMsg}},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "%s: model request", m.name)
	}

	data, err := parseJSONResponse(resp.Text())
	if err != nil {
		return nil, eris.Wrapf(err, "%s: parse response", m.name)
	}

	resp.Usage.LogCost(model, m.name)
	return &orchestrator.Output{
		Data:       data,
		Model:      model,
		TokensUsed: int(resp.Usage.Total()),
		CostUSD: pricing.Claude(model,
			int(resp.Usage.InputTokens),
			int(resp.Usage.OutputTokens),
			int(resp.Usage.CacheCreationInputTokens),
			int(resp.Usage.CacheReadInputTokens),
		),
	}, nil
}

func buildUserMessage(key string, input orchestrator.Input) (string, error) {
	payload, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "encode module input")
	}
	var b strings.Builder
	b.WriteString("Symbol: ")
	b.WriteString(key)
	b.WriteString("\n\nInput data:\n")
	b.Write(payload)
	b.WriteString("\n\nRespond with a single JSON object and nothing else.")
	return b.String(), nil
}

// parseJSONResponse extracts the JSON object from the response text, which
// may have surrounding prose.
func parseJSONResponse(text string) (map[string]any, error) {
	if text == "" {
		return nil, eris.New("empty model response")
	}
	jsonStart := strings.Index(text, "{")
	jsonEnd := strings.LastIndex(text, "}")
	if jsonStart < 0 || jsonEnd <= jsonStart {
		return nil, eris.Errorf("no JSON object in response: %s", truncate(text, 120))
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(text[jsonStart:jsonEnd+1]), &data); err != nil {
		return nil, eris.Wrap(err, "decode response JSON")
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
