package dataflows

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/stockcheck/stockcheck/internal/httpclient"
)

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				Title      string  `json:"title"`
				Permalink  string  `json:"permalink"`
				CreatedUTC float64 `json:"created_utc"`
				Score      float64 `json:"score"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// RedditSearch queries r/stocks for recent posts matching the query.
func (s *Sources) RedditSearch(ctx context.Context, query string) ([]Item, error) {
	return s.redditSearchFrom(ctx, "https://www.reddit.com/r/stocks/search.json", query)
}

func (s *Sources) redditSearchFrom(ctx context.Context, url, query string) ([]Item, error) {
	resp, err := s.HTTP.Get(ctx, url, &httpclient.Request{
		Params: map[string]string{
			"q":           query,
			"restrict_sr": "1",
			"sort":        "new",
			"t":           "day",
			"limit":       "10",
		},
	})
	if err != nil {
		return nil, err
	}

	var listing redditListing
	if err := json.Unmarshal(resp.Body(), &listing); err != nil {
		return nil, fmt.Errorf("reddit payload: %w", err)
	}

	items := make([]Item, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		post := child.Data
		items = append(items, Item{
			Title:       post.Title,
			URL:         "https://www.reddit.com" + post.Permalink,
			PublishedAt: time.Unix(int64(post.CreatedUTC), 0).UTC().Format(time.RFC3339),
			Source:      "reddit",
			Score:       post.Score,
		})
	}
	return items, nil
}

type stocktwitsStream struct {
	Messages []struct {
		Body      string `json:"body"`
		URL       string `json:"url"`
		CreatedAt string `json:"created_at"`
	} `json:"messages"`
}

// Stocktwits fetches the public message stream for a symbol.
func (s *Sources) Stocktwits(ctx context.Context, symbol string) ([]Item, error) {
	url := fmt.Sprintf("https://api.stocktwits.com/api/2/streams/symbol/%s.json", symbol)
	resp, err := s.HTTP.Get(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	var stream stocktwitsStream
	if err := json.Unmarshal(resp.Body(), &stream); err != nil {
		return nil, fmt.Errorf("stocktwits payload: %w", err)
	}

	items := make([]Item, 0, len(stream.Messages))
	for _, msg := range stream.Messages {
		items = append(items, Item{
			Title:       msg.Body,
			URL:         msg.URL,
			PublishedAt: msg.CreatedAt,
			Source:      "stocktwits",
		})
	}
	return items, nil
}

// PTTSearch scrapes the PTT Stock board search results. The board is
// age-gated, hence the over18 cookie.
func (s *Sources) PTTSearch(ctx context.Context, query string) ([]Item, error) {
	return s.pttSearchFrom(ctx, fmt.Sprintf("https://www.ptt.cc/bbs/Stock/search?q=%s", query))
}

func (s *Sources) pttSearchFrom(ctx context.Context, url string) ([]Item, error) {
	resp, err := s.HTTP.Get(ctx, url, &httpclient.Request{
		Cookies: map[string]string{"over18": "1"},
	})
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.String()))
	if err != nil {
		return nil, fmt.Errorf("ptt html: %w", err)
	}

	var items []Item
	doc.Find("div.r-ent a").Each(func(_ int, sel *goquery.Selection) {
		link, _ := sel.Attr("href")
		title := strings.TrimSpace(sel.Text())
		if link == "" || title == "" || !strings.HasPrefix(link, "/bbs/Stock/") {
			return
		}
		items = append(items, Item{
			Title:  html.UnescapeString(title),
			URL:    "https://www.ptt.cc" + link,
			Source: "ptt",
		})
	})
	return Cap(items, 10), nil
}
