package sources

import (
	"context"
	"fmt"
	"net/url"
)

// FilingsSource fetches recent regulatory filings metadata for a symbol.
type FilingsSource struct {
	client  *Client
	baseURL string
}

// NewFilingsSource creates a filings source against the given API base URL.
func NewFilingsSource(client *Client, baseURL string) *FilingsSource {
	return &FilingsSource{client: client, baseURL: baseURL}
}

func (s *FilingsSource) Name() string { return "filings" }

func (s *FilingsSource) Fetch(ctx context.Context, key string) (map[string]any, error) {
	u := fmt.Sprintf("%s/v1/filings?symbol=%s&limit=20", s.baseURL, url.QueryEscape(key))

	var payload map[string]any
	if err := s.client.GetJSON(ctx, u, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
