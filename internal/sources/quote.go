package sources

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// QuoteSource fetches the current market quote for a symbol. It keeps the
// last successful payload per symbol as fallback data, so a dead feed can
// still supply a stale quote at reduced quality weight.
type QuoteSource struct {
	client  *Client
	baseURL string

	mu        sync.RWMutex
	lastKnown map[string]map[string]any
}

// NewQuoteSource creates a quote source against the given API base URL.
func NewQuoteSource(client *Client, baseURL string) *QuoteSource {
	return &QuoteSource{
		client:    client,
		baseURL:   baseURL,
		lastKnown: make(map[string]map[string]any),
	}
}

func (s *QuoteSource) Name() string { return "quote" }

// Fetch retrieves the quote payload for a symbol.
func (s *QuoteSource) Fetch(ctx context.Context, key string) (map[string]any, error) {
	u := fmt.Sprintf("%s/v1/quote?symbol=%s", s.baseURL, url.QueryEscape(key))

	var payload map[string]any
	if err := s.client.GetJSON(ctx, u, &payload); err != nil {
		return nil, err
	}

	snapshot := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		snapshot[k] = v
	}
	snapshot["as_of"] = time.Now().UTC().Format(time.RFC3339)

	s.mu.Lock()
	s.lastKnown[key] = snapshot
	s.mu.Unlock()

	return payload, nil
}

// FallbackData returns the last successful quote for the symbol, or nil.
func (s *QuoteSource) FallbackData(key string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastKnown[key]
}
