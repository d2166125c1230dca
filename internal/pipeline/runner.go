// Package pipeline orchestrates the daily ingestion run. Each watch-listed
// symbol walks a fixed sequence: price fallback chain, indicator computation,
// news, financials, sentiment. Symbols run concurrently on a bounded pool and
// a failure in one never aborts the others.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stockcheck/stockcheck/internal/dataflows"
	"github.com/stockcheck/stockcheck/internal/indicators"
	"github.com/stockcheck/stockcheck/internal/store"
)

const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusSkipped = "skipped"
)

// PriceSource is one step of a price fallback chain.
type PriceSource struct {
	Name  string
	Fetch func(ctx context.Context) ([]dataflows.PriceRow, error)
}

// ItemSource is one step of a news or sentiment fallback chain.
type ItemSource struct {
	Name  string
	Fetch func(ctx context.Context) ([]dataflows.Item, error)
}

// FinancialSource fetches one raw financial payload.
type FinancialSource struct {
	Name       string
	ReportType string
	Fetch      func(ctx context.Context) ([]byte, error)
}

// SymbolPlan is everything the runner needs to process one symbol.
type SymbolPlan struct {
	Market     string
	Symbol     string
	Prices     []PriceSource
	News       []ItemSource
	Sentiment  []ItemSource
	Financials []FinancialSource
}

// SymbolResult reports what happened for one symbol.
type SymbolResult struct {
	Symbol      string `json:"symbol"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	PriceSource string `json:"price_source,omitempty"`
	Prices      int    `json:"prices"`
	Indicators  int    `json:"indicators"`
	News        int    `json:"news"`
	Sentiment   int    `json:"sentiment"`
	Financials  int    `json:"financials"`

	newsSource      string
	sentimentSource string
}

// Totals aggregates row counts over the whole run.
type Totals struct {
	Symbols    int `json:"symbols"`
	Prices     int `json:"prices"`
	Indicators int `json:"indicators"`
	News       int `json:"news"`
	Sentiment  int `json:"sentiment"`
	Financials int `json:"financials"`
}

// TotalsBySource breaks row counts down by the source that produced them.
type TotalsBySource struct {
	Prices    map[string]int `json:"prices"`
	News      map[string]int `json:"news"`
	Sentiment map[string]int `json:"sentiment"`
}

// Summary is the run report, also emitted as JSON by the CLI.
type Summary struct {
	Market         string         `json:"market"`
	StartDate      string         `json:"start_date"`
	EndDate        string         `json:"end_date"`
	Totals         Totals         `json:"totals"`
	TotalsBySource TotalsBySource `json:"totals_by_source"`
	Symbols        []SymbolResult `json:"symbols"`
}

// Runner executes symbol plans against the store.
type Runner struct {
	Store        *store.Store
	Log          *logrus.Logger
	Workers      int
	NewsCap      int
	SentimentCap int
}

// Run processes all plans with at most Workers symbols in flight. Price rows
// are filtered to the [start, end] window before persisting.
func (r *Runner) Run(ctx context.Context, plans []SymbolPlan, start, end time.Time) *Summary {
	workers := r.Workers
	if workers < 1 {
		workers = 1
	}
	if len(plans) > 0 && workers > len(plans) {
		workers = len(plans)
	}

	results := make([]SymbolResult, len(plans))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, plan := range plans {
		wg.Add(1)
		go func(i int, plan SymbolPlan) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if ctx.Err() != nil {
				results[i] = SymbolResult{Symbol: plan.Symbol, Status: StatusSkipped, Reason: "canceled"}
				return
			}
			results[i] = r.runSymbol(ctx, plan, start, end)
		}(i, plan)
	}
	wg.Wait()

	market := ""
	if len(plans) > 0 {
		market = plans[0].Market
	}
	return summarize(market, start, end, results)
}

func (r *Runner) runSymbol(ctx context.Context, plan SymbolPlan, start, end time.Time) SymbolResult {
	res := SymbolResult{Symbol: plan.Symbol, Status: StatusOK}
	log := r.Log.WithFields(logrus.Fields{"market": plan.Market, "symbol": plan.Symbol})

	prices, priceSource := r.fetchPrices(ctx, log, plan, start, end)
	if len(prices) == 0 {
		res.Status = StatusSkipped
		res.Reason = "no price data"
		log.Warn("all price sources empty, skipping symbol")
		return res
	}
	res.PriceSource = priceSource
	if err := r.Store.SavePrices(plan.Market, plan.Symbol, prices); err != nil {
		res.Status = StatusSkipped
		res.Reason = "persist prices: " + err.Error()
		log.WithError(err).Error("persist prices")
		return res
	}
	res.Prices = len(prices)

	rows := indicators.Compute(prices)
	if err := r.Store.SaveIndicators(plan.Market, plan.Symbol, rows); err != nil {
		markPartial(&res, log, "persist indicators", err)
	} else {
		res.Indicators = len(rows)
	}

	if items, source, ok := r.fetchItems(ctx, log, plan.News, r.NewsCap); !ok {
		markPartial(&res, log, "news", errAllSourcesFailed)
	} else if err := r.Store.SaveNews(plan.Market, plan.Symbol, items); err != nil {
		markPartial(&res, log, "persist news", err)
	} else {
		res.News = len(items)
		res.newsSource = source
	}

	res.Financials = r.fetchFinancials(ctx, log, plan, &res)

	if items, source, ok := r.fetchItems(ctx, log, plan.Sentiment, r.SentimentCap); !ok {
		markPartial(&res, log, "sentiment", errAllSourcesFailed)
	} else if err := r.Store.SaveSentiment(plan.Market, plan.Symbol, items); err != nil {
		markPartial(&res, log, "persist sentiment", err)
	} else {
		res.Sentiment = len(items)
		res.sentimentSource = source
	}

	log.WithFields(logrus.Fields{
		"status": res.Status, "prices": res.Prices, "news": res.News,
		"sentiment": res.Sentiment, "financials": res.Financials,
	}).Info("symbol done")
	return res
}

// fetchPrices walks the chain until a source yields rows inside the window.
// A source that errors or comes back empty just hands off to the next one.
func (r *Runner) fetchPrices(ctx context.Context, log *logrus.Entry, plan SymbolPlan, start, end time.Time) ([]dataflows.PriceRow, string) {
	for _, src := range plan.Prices {
		rows, err := src.Fetch(ctx)
		if err != nil {
			log.WithError(err).WithField("source", src.Name).Warn("price source failed, trying next")
			continue
		}
		rows = dataflows.FilterByDate(rows, start, end)
		if len(rows) == 0 {
			log.WithField("source", src.Name).Debug("price source empty in window, trying next")
			continue
		}
		return rows, src.Name
	}
	return nil, ""
}

// fetchItems walks a news/sentiment chain. ok is false only when every source
// in a non-empty chain returned an error; an empty result set is a valid
// outcome, not a failure.
func (r *Runner) fetchItems(ctx context.Context, log *logrus.Entry, chain []ItemSource, limit int) (items []dataflows.Item, source string, ok bool) {
	if len(chain) == 0 {
		return nil, "", true
	}
	failures := 0
	for _, src := range chain {
		got, err := src.Fetch(ctx)
		if err != nil {
			failures++
			log.WithError(err).WithField("source", src.Name).Warn("item source failed, trying next")
			continue
		}
		if len(got) == 0 {
			log.WithField("source", src.Name).Debug("item source empty, trying next")
			continue
		}
		return dataflows.Cap(got, limit), src.Name, true
	}
	return nil, "", failures < len(chain)
}

// fetchFinancials is best effort. Each configured source is attempted and a
// failure downgrades the symbol to partial without stopping the rest.
func (r *Runner) fetchFinancials(ctx context.Context, log *logrus.Entry, plan SymbolPlan, res *SymbolResult) int {
	saved := 0
	for _, src := range plan.Financials {
		payload, err := src.Fetch(ctx)
		if err != nil {
			markPartial(res, log, "financials "+src.Name, err)
			continue
		}
		if dataflows.EmptyPayload(payload) {
			log.WithField("source", src.Name).Debug("financials payload empty")
			continue
		}
		periodEnd := dataflows.ExtractPeriodEnd(payload)
		if err := r.Store.SaveFinancials(plan.Market, plan.Symbol, periodEnd, src.ReportType, payload, src.Name); err != nil {
			markPartial(res, log, "persist financials", err)
			continue
		}
		saved++
	}
	return saved
}

func markPartial(res *SymbolResult, log *logrus.Entry, step string, err error) {
	log.WithError(err).WithField("step", step).Warn("step failed")
	if res.Status == StatusOK {
		res.Status = StatusPartial
		res.Reason = step + ": " + err.Error()
	}
}

func summarize(market string, start, end time.Time, results []SymbolResult) *Summary {
	s := &Summary{
		Market:    market,
		StartDate: start.Format("2006-01-02"),
		EndDate:   end.Format("2006-01-02"),
		TotalsBySource: TotalsBySource{
			Prices:    map[string]int{},
			News:      map[string]int{},
			Sentiment: map[string]int{},
		},
		Symbols: results,
	}
	s.Totals.Symbols = len(results)
	for _, r := range results {
		s.Totals.Prices += r.Prices
		s.Totals.Indicators += r.Indicators
		s.Totals.News += r.News
		s.Totals.Sentiment += r.Sentiment
		s.Totals.Financials += r.Financials
		if r.PriceSource != "" {
			s.TotalsBySource.Prices[r.PriceSource] += r.Prices
		}
		if r.newsSource != "" {
			s.TotalsBySource.News[r.newsSource] += r.News
		}
		if r.sentimentSource != "" {
			s.TotalsBySource.Sentiment[r.sentimentSource] += r.Sentiment
		}
	}
	return s
}
