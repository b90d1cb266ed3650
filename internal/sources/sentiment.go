package sources

import (
	"context"
	"fmt"
	"net/url"
)

// SentimentSource fetches aggregated social sentiment scores for a symbol.
type SentimentSource struct {
	client  *Client
	baseURL string
}

// NewSentimentSource creates a sentiment source against the given API base URL.
func NewSentimentSource(client *Client, baseURL string) *SentimentSource {
	return &SentimentSource{client: client, baseURL: baseURL}
}

func (s *SentimentSource) Name() string { return "sentiment" }

func (s *SentimentSource) Fetch(ctx context.Context, key string) (map[string]any, error) {
	u := fmt.Sprintf("%s/v1/sentiment?symbol=%s", s.baseURL, url.QueryEscape(key))

	var payload map[string]any
	if err := s.client.GetJSON(ctx, u, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// FallbackData reports neutral sentiment when the feed is down; a neutral
// reading is more useful to downstream modules than a missing one.
func (s *SentimentSource) FallbackData(key string) map[string]any {
	return map[string]any{
		"symbol":          key,
		"sentiment_score": 0.0,
		"mention_count":   0.0,
		"neutral_default": true,
	}
}
