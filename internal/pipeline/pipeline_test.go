package pipeline

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stockcheck/stockcheck/internal/dataflows"
	"github.com/stockcheck/stockcheck/internal/store"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), time.Second)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Runner{Store: s, Log: log, Workers: 2, NewsCap: 10, SentimentCap: 10}
}

func staticPrices(name string, rows []dataflows.PriceRow, err error) PriceSource {
	return PriceSource{Name: name, Fetch: func(context.Context) ([]dataflows.PriceRow, error) {
		return rows, err
	}}
}

func window() (time.Time, time.Time) {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
}

func windowRows(source string) []dataflows.PriceRow {
	return []dataflows.PriceRow{
		{Date: "2024-03-04", Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100, Source: source},
		{Date: "2024-03-05", Open: 10.5, High: 12, Low: 10, Close: 11, Volume: 120, Source: source},
	}
}

func TestPriceFallbackOnError(t *testing.T) {
	r := newTestRunner(t)
	start, end := window()

	plans := []SymbolPlan{{
		Market: "us", Symbol: "AAPL",
		Prices: []PriceSource{
			staticPrices("stooq", nil, errors.New("boom")),
			staticPrices("yahoo", windowRows("yahoo"), nil),
		},
	}}
	sum := r.Run(context.Background(), plans, start, end)

	res := sum.Symbols[0]
	if res.Status != StatusOK {
		t.Fatalf("status = %s (%s)", res.Status, res.Reason)
	}
	if res.PriceSource != "yahoo" || res.Prices != 2 {
		t.Fatalf("fallback not taken: source=%s prices=%d", res.PriceSource, res.Prices)
	}
	if sum.TotalsBySource.Prices["yahoo"] != 2 {
		t.Fatalf("totals_by_source wrong: %v", sum.TotalsBySource.Prices)
	}
}

func TestPriceFallbackOnEmpty(t *testing.T) {
	r := newTestRunner(t)
	start, end := window()

	// Primary succeeds but all its rows fall outside the window.
	stale := []dataflows.PriceRow{{Date: "2023-01-03", Close: 5, Source: "stooq"}}
	plans := []SymbolPlan{{
		Market: "us", Symbol: "AAPL",
		Prices: []PriceSource{
			staticPrices("stooq", stale, nil),
			staticPrices("yahoo", windowRows("yahoo"), nil),
		},
	}}
	sum := r.Run(context.Background(), plans, start, end)

	if got := sum.Symbols[0].PriceSource; got != "yahoo" {
		t.Fatalf("expected fallback to yahoo, got %q", got)
	}
}

func TestSymbolSkippedWhenAllPriceSourcesFail(t *testing.T) {
	r := newTestRunner(t)
	start, end := window()

	plans := []SymbolPlan{{
		Market: "us", Symbol: "AAPL",
		Prices: []PriceSource{staticPrices("stooq", nil, errors.New("down"))},
	}}
	sum := r.Run(context.Background(), plans, start, end)

	res := sum.Symbols[0]
	if res.Status != StatusSkipped || res.Reason != "no price data" {
		t.Fatalf("status=%s reason=%s", res.Status, res.Reason)
	}
	if sum.Totals.Prices != 0 {
		t.Fatalf("skipped symbol must not count rows: %+v", sum.Totals)
	}
}

func TestSymbolFailureIsIsolated(t *testing.T) {
	r := newTestRunner(t)
	start, end := window()

	plans := []SymbolPlan{
		{
			Market: "us", Symbol: "BROKEN",
			Prices: []PriceSource{staticPrices("stooq", nil, errors.New("down"))},
		},
		{
			Market: "us", Symbol: "AAPL",
			Prices: []PriceSource{staticPrices("stooq", windowRows("stooq"), nil)},
		},
	}
	sum := r.Run(context.Background(), plans, start, end)

	if sum.Symbols[0].Status != StatusSkipped {
		t.Fatalf("BROKEN should skip, got %s", sum.Symbols[0].Status)
	}
	if sum.Symbols[1].Status != StatusOK || sum.Symbols[1].Prices != 2 {
		t.Fatalf("AAPL affected by sibling failure: %+v", sum.Symbols[1])
	}
}

func TestAuxFailureDowngradesToPartial(t *testing.T) {
	r := newTestRunner(t)
	start, end := window()

	plans := []SymbolPlan{{
		Market: "us", Symbol: "AAPL",
		Prices: []PriceSource{staticPrices("stooq", windowRows("stooq"), nil)},
		News: []ItemSource{{Name: "google_news", Fetch: func(context.Context) ([]dataflows.Item, error) {
			return nil, errors.New("feed down")
		}}},
	}}
	sum := r.Run(context.Background(), plans, start, end)

	res := sum.Symbols[0]
	if res.Status != StatusPartial {
		t.Fatalf("status = %s, want partial", res.Status)
	}
	if res.Prices != 2 || res.Indicators != 2 {
		t.Fatalf("price work must survive news failure: %+v", res)
	}
}

func TestSentimentChainFallsBack(t *testing.T) {
	r := newTestRunner(t)
	start, end := window()

	items := []dataflows.Item{{Title: "bullish", URL: "https://example.com/1", Source: "stocktwits"}}
	plans := []SymbolPlan{{
		Market: "us", Symbol: "AAPL",
		Prices: []PriceSource{staticPrices("stooq", windowRows("stooq"), nil)},
		Sentiment: []ItemSource{
			{Name: "reddit", Fetch: func(context.Context) ([]dataflows.Item, error) {
				return nil, errors.New("rate limited")
			}},
			{Name: "stocktwits", Fetch: func(context.Context) ([]dataflows.Item, error) {
				return items, nil
			}},
		},
	}}
	sum := r.Run(context.Background(), plans, start, end)

	res := sum.Symbols[0]
	if res.Status != StatusOK {
		t.Fatalf("secondary source success must keep status ok, got %s (%s)", res.Status, res.Reason)
	}
	if sum.TotalsBySource.Sentiment["stocktwits"] != 1 {
		t.Fatalf("sentiment source attribution: %v", sum.TotalsBySource.Sentiment)
	}
}

func TestWorkerPoolIsBounded(t *testing.T) {
	r := newTestRunner(t)
	r.Workers = 2
	start, end := window()

	var inFlight, peak int32
	var mu sync.Mutex
	fetch := func(context.Context) ([]dataflows.PriceRow, error) {
		n := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil, nil
	}

	plans := make([]SymbolPlan, 6)
	for i := range plans {
		plans[i] = SymbolPlan{
			Market: "us", Symbol: "S",
			Prices: []PriceSource{{Name: "slow", Fetch: fetch}},
		}
	}
	r.Run(context.Background(), plans, start, end)

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Fatalf("pool exceeded bound: peak %d workers", peak)
	}
}

func TestSummaryAggregation(t *testing.T) {
	r := newTestRunner(t)
	start, end := window()

	plans := []SymbolPlan{
		{
			Market: "us", Symbol: "AAPL",
			Prices: []PriceSource{staticPrices("stooq", windowRows("stooq"), nil)},
			News: []ItemSource{{Name: "google_news", Fetch: func(context.Context) ([]dataflows.Item, error) {
				return []dataflows.Item{
					{Title: "a", URL: "https://example.com/a", Source: "google_news"},
					{Title: "b", URL: "https://example.com/b", Source: "google_news"},
				}, nil
			}}},
		},
		{
			Market: "us", Symbol: "MSFT",
			Prices: []PriceSource{staticPrices("yahoo", windowRows("yahoo"), nil)},
		},
	}
	sum := r.Run(context.Background(), plans, start, end)

	if sum.Market != "us" || sum.StartDate != "2024-03-01" || sum.EndDate != "2024-03-08" {
		t.Fatalf("summary header: %+v", sum)
	}
	if sum.Totals.Symbols != 2 || sum.Totals.Prices != 4 || sum.Totals.News != 2 {
		t.Fatalf("totals: %+v", sum.Totals)
	}
	if sum.TotalsBySource.Prices["stooq"] != 2 || sum.TotalsBySource.Prices["yahoo"] != 2 {
		t.Fatalf("prices by source: %v", sum.TotalsBySource.Prices)
	}
	if sum.TotalsBySource.News["google_news"] != 2 {
		t.Fatalf("news by source: %v", sum.TotalsBySource.News)
	}
}

func TestNewsCapApplied(t *testing.T) {
	r := newTestRunner(t)
	r.NewsCap = 3
	start, end := window()

	many := make([]dataflows.Item, 8)
	for i := range many {
		many[i] = dataflows.Item{
			Title:  "n",
			URL:    "https://example.com/" + string(rune('a'+i)),
			Source: "google_news",
		}
	}
	plans := []SymbolPlan{{
		Market: "us", Symbol: "AAPL",
		Prices: []PriceSource{staticPrices("stooq", windowRows("stooq"), nil)},
		News: []ItemSource{{Name: "google_news", Fetch: func(context.Context) ([]dataflows.Item, error) {
			return many, nil
		}}},
	}}
	sum := r.Run(context.Background(), plans, start, end)

	if got := sum.Symbols[0].News; got != 3 {
		t.Fatalf("news cap not applied: %d items", got)
	}
}
