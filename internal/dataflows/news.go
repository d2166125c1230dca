package dataflows

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/stockcheck/stockcheck/internal/httpclient"
)

type rssFeed struct {
	Items []rssItem `xml:"channel>item"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	PubDate string `xml:"pubDate"`
}

// GoogleNews searches the Google News RSS feed with locale parameters
// chosen per market.
func (s *Sources) GoogleNews(ctx context.Context, query, market string) ([]Item, error) {
	return s.googleNewsFrom(ctx, "https://news.google.com/rss/search", query, market)
}

func (s *Sources) googleNewsFrom(ctx context.Context, url, query, market string) ([]Item, error) {
	params := map[string]string{"q": query}
	if market == "tw" {
		params["hl"] = "zh-TW"
		params["gl"] = "TW"
		params["ceid"] = "TW:zh-Hant"
	} else {
		params["hl"] = "en-US"
		params["gl"] = "US"
		params["ceid"] = "US:en"
	}

	resp, err := s.HTTP.Get(ctx, url, &httpclient.Request{Params: params})
	if err != nil {
		return nil, err
	}

	var feed rssFeed
	if err := xml.Unmarshal(resp.Body(), &feed); err != nil {
		return nil, fmt.Errorf("google news rss: %w", err)
	}

	items := make([]Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		items = append(items, Item{
			Title:       strings.TrimSpace(entry.Title),
			URL:         strings.TrimSpace(entry.Link),
			PublishedAt: parseRFC1123(entry.PubDate),
			Source:      "google_news",
		})
	}
	return items, nil
}

// parseRFC1123 converts an RSS pubDate to RFC 3339, or "" when the
// value does not parse.
func parseRFC1123(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if t, err := mail.ParseDate(v); err == nil {
		return t.UTC().Format(time.RFC3339)
	}
	return ""
}
