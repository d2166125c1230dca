package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/stockcheck/stockcheck/internal/config"
	"github.com/stockcheck/stockcheck/internal/dataflows"
)

var errAllSourcesFailed = errors.New("all sources failed")

// BuildPlans wires the per-market source chains for a set of symbols.
//
// Prices fall back stooq then yahoo for us, finmind then yahoo for tw. News
// comes from Google News in the market locale. Sentiment is reddit then
// stocktwits for us and PTT for tw. Financials are SEC company facts for us
// symbols with a CIK and FinMind statements for tw symbols.
func BuildPlans(src *dataflows.Sources, meta config.Metadata, market string, symbols []string, start, end time.Time) []SymbolPlan {
	plans := make([]SymbolPlan, 0, len(symbols))
	for _, symbol := range symbols {
		plans = append(plans, buildPlan(src, meta, market, symbol, start, end))
	}
	return plans
}

func buildPlan(src *dataflows.Sources, meta config.Metadata, market, symbol string, start, end time.Time) SymbolPlan {
	plan := SymbolPlan{Market: market, Symbol: symbol}
	query := meta.QueryFor(market, symbol)

	yahoo := PriceSource{Name: "yahoo", Fetch: func(ctx context.Context) ([]dataflows.PriceRow, error) {
		return src.YahooDaily(ctx, symbol, start, end)
	}}
	if market == "tw" {
		dataID := meta.FinMindIDFor(symbol)
		if dataID == "" {
			dataID = config.StripTWSuffix(symbol)
		}
		plan.Prices = []PriceSource{
			{Name: "finmind", Fetch: func(ctx context.Context) ([]dataflows.PriceRow, error) {
				return src.FinMindDaily(ctx, dataID, start, end)
			}},
			yahoo,
		}
	} else {
		plan.Prices = []PriceSource{
			{Name: "stooq", Fetch: func(ctx context.Context) ([]dataflows.PriceRow, error) {
				return src.StooqDaily(ctx, symbol)
			}},
			yahoo,
		}
	}

	plan.News = []ItemSource{
		{Name: "google_news", Fetch: func(ctx context.Context) ([]dataflows.Item, error) {
			return src.GoogleNews(ctx, query, market)
		}},
	}

	if market == "tw" {
		plan.Sentiment = []ItemSource{
			{Name: "ptt", Fetch: func(ctx context.Context) ([]dataflows.Item, error) {
				return src.PTTSearch(ctx, config.StripTWSuffix(symbol))
			}},
		}
	} else {
		plan.Sentiment = []ItemSource{
			{Name: "reddit", Fetch: func(ctx context.Context) ([]dataflows.Item, error) {
				return src.RedditSearch(ctx, symbol)
			}},
			{Name: "stocktwits", Fetch: func(ctx context.Context) ([]dataflows.Item, error) {
				return src.Stocktwits(ctx, symbol)
			}},
		}
	}

	if market == "tw" {
		dataID := meta.FinMindIDFor(symbol)
		if dataID == "" {
			dataID = config.StripTWSuffix(symbol)
		}
		plan.Financials = []FinancialSource{
			{Name: "finmind", ReportType: "financial_statements", Fetch: func(ctx context.Context) ([]byte, error) {
				return src.FinMindFinancials(ctx, dataID, start, end)
			}},
		}
	} else if cik := meta.CIKFor(symbol); cik != "" {
		plan.Financials = []FinancialSource{
			{Name: "sec_edgar", ReportType: "companyfacts", Fetch: func(ctx context.Context) ([]byte, error) {
				return src.SECCompanyFacts(ctx, cik)
			}},
		}
	}

	return plan
}
