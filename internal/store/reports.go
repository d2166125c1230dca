package store

import (
	"database/sql"
	"fmt"
)

// ReportRow is one persisted daily prediction for a symbol.
type ReportRow struct {
	Symbol     string
	Price      float64
	Summary    string
	Prediction string
}

// SaveReports upserts one report per symbol for the given date.
func (s *Store) SaveReports(market, reportDate string, rows []ReportRow) error {
	createdAt := nowUTC()
	for _, row := range rows {
		if _, err := s.db.Exec(`
			INSERT OR REPLACE INTO reports
			(market, symbol, report_date, price, ai_summary, ai_prediction, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			market, row.Symbol, reportDate, row.Price, row.Summary, row.Prediction, createdAt,
		); err != nil {
			return fmt.Errorf("save report %s/%s: %w", market, row.Symbol, err)
		}
	}
	return nil
}

// PriorReportDates returns up to limit report dates strictly before
// the given date, newest first.
func (s *Store) PriorReportDates(market, symbol, before string, limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT report_date FROM reports
		WHERE market = ? AND symbol = ? AND report_date < ?
		ORDER BY report_date DESC
		LIMIT ?`,
		market, symbol, before, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// ReportAt loads the price and prediction of one stored report.
// Returns found=false when no report exists for the key.
func (s *Store) ReportAt(market, symbol, date string) (price float64, prediction string, found bool, err error) {
	err = s.db.QueryRow(`
		SELECT price, ai_prediction FROM reports
		WHERE market = ? AND symbol = ? AND report_date = ?`,
		market, symbol, date,
	).Scan(&price, &prediction)
	if err == sql.ErrNoRows {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, err
	}
	return price, prediction, true, nil
}

// AccuracyRecord scores one prior prediction against a later price.
type AccuracyRecord struct {
	Market          string
	Symbol          string
	ReportDate      string
	ReportPrice     float64
	CompareDate     string
	ComparePrice    float64
	Prediction      string
	ActualDirection string
	Hit             bool
}

// SaveAccuracy upserts one accuracy record keyed by
// (market, symbol, report_date).
func (s *Store) SaveAccuracy(rec AccuracyRecord) error {
	hit := 0
	if rec.Hit {
		hit = 1
	}
	if _, err := s.db.Exec(`
		INSERT OR REPLACE INTO accuracy
		(market, symbol, report_date, report_price, compare_date, compare_price,
		 ai_prediction, actual_direction, hit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Market, rec.Symbol, rec.ReportDate, rec.ReportPrice,
		rec.CompareDate, rec.ComparePrice, rec.Prediction,
		rec.ActualDirection, hit, nowUTC(),
	); err != nil {
		return fmt.Errorf("save accuracy %s/%s@%s: %w", rec.Market, rec.Symbol, rec.ReportDate, err)
	}
	return nil
}

// IndicatorSnapshot is the latest stored indicator row for a symbol,
// as nullable values straight from the table.
type IndicatorSnapshot struct {
	Date       string   `json:"date"`
	SMA20      *float64 `json:"sma20"`
	SMA50      *float64 `json:"sma50"`
	EMA12      *float64 `json:"ema12"`
	EMA26      *float64 `json:"ema26"`
	RSI14      *float64 `json:"rsi14"`
	MACD       *float64 `json:"macd"`
	MACDSignal *float64 `json:"macd_signal"`
	MACDHist   *float64 `json:"macd_hist"`
	BBMid      *float64 `json:"bb_mid"`
	BBUpper    *float64 `json:"bb_upper"`
	BBLower    *float64 `json:"bb_lower"`
}

// ContextItem is a news or sentiment entry surfaced to the reporter.
type ContextItem struct {
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	PublishedAt string  `json:"published_at"`
	Source      string  `json:"source"`
	Score       float64 `json:"score,omitempty"`
}

// FinancialRef names a stored financials document.
type FinancialRef struct {
	ReportType string `json:"report_type"`
	Source     string `json:"source"`
}

// SymbolContext is the per-symbol slice of pipeline data handed to
// the AI summarizer.
type SymbolContext struct {
	Indicators *IndicatorSnapshot `json:"indicators,omitempty"`
	News       []ContextItem      `json:"news,omitempty"`
	Sentiment  []ContextItem      `json:"sentiment,omitempty"`
	Financials []FinancialRef     `json:"financials,omitempty"`
}

// LoadPipelineContext reads back the freshest pipeline rows for each
// symbol. Symbols with no stored data are omitted.
func (s *Store) LoadPipelineContext(market string, symbols []string) (map[string]SymbolContext, error) {
	out := make(map[string]SymbolContext)
	for _, symbol := range symbols {
		ctx := SymbolContext{}

		snap := IndicatorSnapshot{}
		err := s.db.QueryRow(`
			SELECT date, sma20, sma50, ema12, ema26, rsi14, macd, macd_signal, macd_hist,
			       bb_mid, bb_upper, bb_lower
			FROM indicators_daily
			WHERE market = ? AND symbol = ?
			ORDER BY date DESC LIMIT 1`,
			market, symbol,
		).Scan(&snap.Date, &snap.SMA20, &snap.SMA50, &snap.EMA12, &snap.EMA26,
			&snap.RSI14, &snap.MACD, &snap.MACDSignal, &snap.MACDHist,
			&snap.BBMid, &snap.BBUpper, &snap.BBLower)
		switch err {
		case nil:
			ctx.Indicators = &snap
		case sql.ErrNoRows:
		default:
			return nil, err
		}

		news, err := s.contextItems(`
			SELECT title, url, COALESCE(published_at, ''), source, 0
			FROM news_items
			WHERE market = ? AND symbol = ?
			ORDER BY published_at DESC LIMIT 3`, market, symbol)
		if err != nil {
			return nil, err
		}
		ctx.News = news

		sentiment, err := s.contextItems(`
			SELECT title, url, COALESCE(published_at, ''), source, score
			FROM sentiment_items
			WHERE market = ? AND symbol = ?
			ORDER BY published_at DESC LIMIT 3`, market, symbol)
		if err != nil {
			return nil, err
		}
		ctx.Sentiment = sentiment

		finRows, err := s.db.Query(`
			SELECT report_type, source FROM financials
			WHERE market = ? AND symbol = ?`, market, symbol)
		if err != nil {
			return nil, err
		}
		for finRows.Next() {
			var ref FinancialRef
			if err := finRows.Scan(&ref.ReportType, &ref.Source); err != nil {
				finRows.Close()
				return nil, err
			}
			ctx.Financials = append(ctx.Financials, ref)
		}
		if err := finRows.Err(); err != nil {
			finRows.Close()
			return nil, err
		}
		finRows.Close()

		if ctx.Indicators != nil || len(ctx.News) > 0 || len(ctx.Sentiment) > 0 || len(ctx.Financials) > 0 {
			out[symbol] = ctx
		}
	}
	return out, nil
}

func (s *Store) contextItems(query, market, symbol string) ([]ContextItem, error) {
	rows, err := s.db.Query(query, market, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ContextItem
	for rows.Next() {
		var item ContextItem
		if err := rows.Scan(&item.Title, &item.URL, &item.PublishedAt, &item.Source, &item.Score); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
