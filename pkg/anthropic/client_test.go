package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenUsage_EstimateCost(t *testing.T) {
	usage := TokenUsage{
		InputTokens:  1_000_000,
		OutputTokens: 500_000,
	}

	cost := usage.EstimateCost("claude-haiku-4-5-20251001")
	// 1M input at $0.80 + 0.5M output at $4.00.
	assert.InDelta(t, 0.80+2.00, cost, 1e-9)
}

func TestTokenUsage_EstimateCost_CacheTraffic(t *testing.T) {
	usage := TokenUsage{
		CacheCreationInputTokens: 1_000_000,
		CacheReadInputTokens:     1_000_000,
	}

	cost := usage.EstimateCost("claude-sonnet-4-5-20250929")
	// Cache writes cost 1.25x input rate, reads 0.1x.
	assert.InDelta(t, 3.00*1.25+3.00*0.1, cost, 1e-9)
}

func TestTokenUsage_EstimateCost_UnknownModel(t *testing.T) {
	usage := TokenUsage{InputTokens: 1_000_000}
	assert.Zero(t, usage.EstimateCost("some-future-model"))
}

func TestTokenUsage_Total(t *testing.T) {
	usage := TokenUsage{
		InputTokens:              100,
		OutputTokens:             50,
		CacheCreationInputTokens: 20,
		CacheReadInputTokens:     10,
	}
	assert.EqualValues(t, 180, usage.Total())
}

func TestMessageResponse_Text(t *testing.T) {
	resp := &MessageResponse{
		Content: []ContentBlock{
			{Type: "text", Text: "hello "},
			{Type: "thinking", Text: "ignored"},
			{Type: "text", Text: "world"},
		},
	}
	assert.Equal(t, "hello world", resp.Text())
}

func TestBuildCachedSystemBlocks(t *testing.T) {
	blocks := BuildCachedSystemBlocks("analysis preamble")
	assert.Len(t, blocks, 1)
	assert.Equal(t, "analysis preamble", blocks[0].Text)
	assert.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}
