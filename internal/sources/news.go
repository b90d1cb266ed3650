package sources

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// rssFeed is the subset of RSS 2.0 the news source reads.
type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	PubDate string `xml:"pubDate"`
	Desc    string `xml:"description"`
}

// NewsSource fetches recent headlines for a symbol from an RSS feed.
type NewsSource struct {
	client   *Client
	feedURL  string
	maxItems int
}

// NewNewsSource creates a news source. feedURL must accept a ?q= query.
func NewNewsSource(client *Client, feedURL string) *NewsSource {
	return &NewsSource{client: client, feedURL: feedURL, maxItems: 25}
}

func (s *NewsSource) Name() string { return "news" }

// Fetch retrieves and parses the RSS feed for a symbol. Feeds declare varied
// charsets, so decoding goes through htmlindex rather than assuming UTF-8.
func (s *NewsSource) Fetch(ctx context.Context, key string) (map[string]any, error) {
	u := fmt.Sprintf("%s?q=%s", s.feedURL, url.QueryEscape(key))

	raw, err := s.client.Get(ctx, u)
	if err != nil {
		return nil, err
	}

	decoder := xml.NewDecoder(bytes.NewReader(raw))
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "rss: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	var feed rssFeed
	if err := decoder.Decode(&feed); err != nil {
		return nil, eris.Wrap(err, "rss: decode feed")
	}

	items := feed.Channel.Items
	if len(items) > s.maxItems {
		items = items[:s.maxItems]
	}

	articles := make([]map[string]any, 0, len(items))
	for _, item := range items {
		article := map[string]any{
			"title":   item.Title,
			"url":     item.Link,
			"summary": item.Desc,
		}
		if ts, err := parsePubDate(item.PubDate); err == nil {
			article["published_at"] = ts.UTC().Format(time.RFC3339)
		}
		articles = append(articles, article)
	}

	return map[string]any{
		"symbol":        key,
		"articles":      articles,
		"article_count": float64(len(articles)),
	}, nil
}

// parsePubDate tries the date formats seen in real-world RSS feeds.
func parsePubDate(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, eris.Errorf("rss: unparseable pubDate %q", raw)
}
