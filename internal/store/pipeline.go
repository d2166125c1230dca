package store

import (
	"encoding/json"
	"fmt"

	"github.com/stockcheck/stockcheck/internal/dataflows"
	"github.com/stockcheck/stockcheck/internal/indicators"
)

// SavePrices upserts daily price rows keyed by (market, symbol, date).
// A re-run replaces rows in place, so a higher-priority source wins
// on replacement without creating duplicates.
func (s *Store) SavePrices(market, symbol string, rows []dataflows.PriceRow) error {
	createdAt := nowUTC()
	for _, row := range rows {
		if _, err := s.db.Exec(`
			INSERT OR REPLACE INTO price_daily
			(market, symbol, date, open, high, low, close, volume, source, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			market, symbol, row.Date, row.Open, row.High, row.Low, row.Close,
			row.Volume, row.Source, createdAt,
		); err != nil {
			return fmt.Errorf("save price %s/%s@%s: %w", market, symbol, row.Date, err)
		}
	}
	return nil
}

// SaveIndicators upserts indicator rows; nil values persist as NULL.
func (s *Store) SaveIndicators(market, symbol string, rows []indicators.Row) error {
	createdAt := nowUTC()
	for _, row := range rows {
		if _, err := s.db.Exec(`
			INSERT OR REPLACE INTO indicators_daily
			(market, symbol, date, sma20, sma50, ema12, ema26, rsi14,
			 macd, macd_signal, macd_hist, bb_mid, bb_upper, bb_lower, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			market, symbol, row.Date,
			row.SMA20, row.SMA50, row.EMA12, row.EMA26, row.RSI14,
			row.MACD, row.MACDSignal, row.MACDHist,
			row.BBMid, row.BBUpper, row.BBLower, createdAt,
		); err != nil {
			return fmt.Errorf("save indicators %s/%s@%s: %w", market, symbol, row.Date, err)
		}
	}
	return nil
}

// SaveNews upserts news items keyed by (market, symbol, url). Items
// without a URL have no key and are skipped.
func (s *Store) SaveNews(market, symbol string, items []dataflows.Item) error {
	createdAt := nowUTC()
	for _, item := range items {
		if item.URL == "" {
			continue
		}
		if _, err := s.db.Exec(`
			INSERT OR REPLACE INTO news_items
			(market, symbol, published_at, title, url, source, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			market, symbol, item.PublishedAt, item.Title, item.URL, item.Source, createdAt,
		); err != nil {
			return fmt.Errorf("save news %s/%s: %w", market, symbol, err)
		}
	}
	return nil
}

// SaveSentiment upserts sentiment items keyed by (market, symbol, url).
func (s *Store) SaveSentiment(market, symbol string, items []dataflows.Item) error {
	createdAt := nowUTC()
	for _, item := range items {
		if item.URL == "" {
			continue
		}
		if _, err := s.db.Exec(`
			INSERT OR REPLACE INTO sentiment_items
			(market, symbol, published_at, title, url, source, score, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			market, symbol, item.PublishedAt, item.Title, item.URL, item.Source, item.Score, createdAt,
		); err != nil {
			return fmt.Errorf("save sentiment %s/%s: %w", market, symbol, err)
		}
	}
	return nil
}

// SaveFinancials upserts one opaque financials payload keyed by
// (market, symbol, report_type, period_end). Empty payloads are
// dropped rather than stored.
func (s *Store) SaveFinancials(market, symbol, periodEnd, reportType string, payload json.RawMessage, source string) error {
	if dataflows.EmptyPayload(payload) {
		return nil
	}
	if _, err := s.db.Exec(`
		INSERT OR REPLACE INTO financials
		(market, symbol, period_end, report_type, payload_json, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		market, symbol, periodEnd, reportType, string(payload), source, nowUTC(),
	); err != nil {
		return fmt.Errorf("save financials %s/%s: %w", market, symbol, err)
	}
	return nil
}

// CountRows returns the row count of one table. Test and summary
// helper; the table name is never user input.
func (s *Store) CountRows(table string) (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
