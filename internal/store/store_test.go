package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stockcheck/stockcheck/internal/dataflows"
	"github.com/stockcheck/stockcheck/internal/indicators"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "market_data.db")
	s, err := Open(path, time.Second)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s, path
}

func priceFixture() []dataflows.PriceRow {
	return []dataflows.PriceRow{
		{Date: "2024-03-01", Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100, Source: "stooq"},
		{Date: "2024-03-04", Open: 10.5, High: 12, Low: 10, Close: 11.5, Volume: 200, Source: "stooq"},
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s, _ := openTestStore(t)

	if err := s.SavePrices("us", "AAPL", priceFixture()); err != nil {
		t.Fatalf("SavePrices: %v", err)
	}
	before, err := s.CountRows("price_daily")
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}

	if err := s.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	after, err := s.CountRows("price_daily")
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if before != after {
		t.Fatalf("second migrate changed row count: %d -> %d", before, after)
	}
}

func TestUpsertsAreIdempotent(t *testing.T) {
	s, _ := openTestStore(t)

	rows := priceFixture()
	for i := 0; i < 2; i++ {
		if err := s.SavePrices("us", "AAPL", rows); err != nil {
			t.Fatalf("SavePrices #%d: %v", i+1, err)
		}
		if err := s.SaveIndicators("us", "AAPL", indicators.Compute(rows)); err != nil {
			t.Fatalf("SaveIndicators #%d: %v", i+1, err)
		}
		if err := s.SaveNews("us", "AAPL", []dataflows.Item{
			{Title: "a", URL: "https://example.com/a", Source: "google_news"},
		}); err != nil {
			t.Fatalf("SaveNews #%d: %v", i+1, err)
		}
		if err := s.SaveSentiment("us", "AAPL", []dataflows.Item{
			{Title: "b", URL: "https://example.com/b", Source: "reddit", Score: 3},
		}); err != nil {
			t.Fatalf("SaveSentiment #%d: %v", i+1, err)
		}
		if err := s.SaveFinancials("us", "AAPL", "2024-03-31", "companyfacts",
			json.RawMessage(`{"facts":{}}`), "sec_edgar"); err != nil {
			t.Fatalf("SaveFinancials #%d: %v", i+1, err)
		}
	}

	counts := map[string]int{
		"price_daily":      2,
		"indicators_daily": 2,
		"news_items":       1,
		"sentiment_items":  1,
		"financials":       1,
	}
	for table, want := range counts {
		got, err := s.CountRows(table)
		if err != nil {
			t.Fatalf("CountRows(%s): %v", table, err)
		}
		if got != want {
			t.Errorf("%s: %d rows, want %d", table, got, want)
		}
	}
}

func TestPriceReplacementKeepsKey(t *testing.T) {
	s, _ := openTestStore(t)

	if err := s.SavePrices("us", "AAPL", priceFixture()); err != nil {
		t.Fatalf("SavePrices: %v", err)
	}
	// Re-run from a different source replaces in place.
	replacement := priceFixture()
	for i := range replacement {
		replacement[i].Source = "yahoo"
		replacement[i].Close += 1
	}
	if err := s.SavePrices("us", "AAPL", replacement); err != nil {
		t.Fatalf("SavePrices replacement: %v", err)
	}

	n, err := s.CountRows("price_daily")
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if n != 2 {
		t.Fatalf("replacement duplicated rows: %d", n)
	}

	var source string
	var closePrice float64
	if err := s.db.QueryRow(
		"SELECT source, close FROM price_daily WHERE market='us' AND symbol='AAPL' AND date='2024-03-01'",
	).Scan(&source, &closePrice); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if source != "yahoo" || closePrice != 11.5 {
		t.Fatalf("row not replaced: source=%s close=%v", source, closePrice)
	}
}

func TestEmptyFinancialsPayloadIsDropped(t *testing.T) {
	s, _ := openTestStore(t)
	for _, payload := range []json.RawMessage{nil, json.RawMessage(`{}`), json.RawMessage(`null`)} {
		if err := s.SaveFinancials("tw", "2330.TW", "", "financial_statements", payload, "finmind"); err != nil {
			t.Fatalf("SaveFinancials(%s): %v", payload, err)
		}
	}
	n, err := s.CountRows("financials")
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if n != 0 {
		t.Fatalf("empty payloads must not persist, got %d rows", n)
	}
}

func TestFinancialsKeyMigrationFromLegacyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	s, err := Open(path, time.Second)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	// Legacy layout: period_end exists but is not part of the key.
	if _, err := s.db.Exec(`
		CREATE TABLE financials (
			market TEXT NOT NULL,
			symbol TEXT NOT NULL,
			period_end TEXT,
			report_type TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			source TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (market, symbol, report_type)
		)`); err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	if _, err := s.db.Exec(`
		INSERT INTO financials VALUES
		('us', 'AAPL', NULL, 'companyfacts', '{}', 'sec_edgar', '2024-01-01T00:00:00Z'),
		('tw', '2330.TW', '2023-12-31', 'financial_statements', '{}', 'finmind', '2024-01-01T00:00:00Z')`,
	); err != nil {
		t.Fatalf("seed legacy rows: %v", err)
	}

	if err := s.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	n, err := s.CountRows("financials")
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if n != 2 {
		t.Fatalf("rows lost in rebuild: %d", n)
	}

	var periodEnd string
	if err := s.db.QueryRow(
		"SELECT period_end FROM financials WHERE market='us' AND symbol='AAPL'",
	).Scan(&periodEnd); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if periodEnd != "" {
		t.Fatalf("NULL period_end must default to empty string, got %q", periodEnd)
	}

	// The rebuilt key must accept multiple periods per report type.
	if err := s.SaveFinancials("us", "AAPL", "2024-03-31", "companyfacts",
		json.RawMessage(`{"facts":{"a":1}}`), "sec_edgar"); err != nil {
		t.Fatalf("SaveFinancials post-migration: %v", err)
	}
	n, _ = s.CountRows("financials")
	if n != 3 {
		t.Fatalf("expected 3 rows after new period insert, got %d", n)
	}

	// And re-running the migration is a no-op.
	if err := s.Migrate(); err != nil {
		t.Fatalf("re-Migrate: %v", err)
	}
	n, _ = s.CountRows("financials")
	if n != 3 {
		t.Fatalf("re-migrate changed rows: %d", n)
	}
}

func TestReportsAndAccuracyRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)

	reports := []ReportRow{{Symbol: "AAPL", Price: 100, Summary: "daily brief", Prediction: "up"}}
	if err := s.SaveReports("us", "2024-03-01", reports); err != nil {
		t.Fatalf("SaveReports: %v", err)
	}

	dates, err := s.PriorReportDates("us", "AAPL", "2024-03-08", 7)
	if err != nil {
		t.Fatalf("PriorReportDates: %v", err)
	}
	if len(dates) != 1 || dates[0] != "2024-03-01" {
		t.Fatalf("unexpected prior dates %v", dates)
	}

	price, prediction, found, err := s.ReportAt("us", "AAPL", "2024-03-01")
	if err != nil || !found {
		t.Fatalf("ReportAt: found=%v err=%v", found, err)
	}
	if price != 100 || prediction != "up" {
		t.Fatalf("report mismatch: %v %s", price, prediction)
	}

	rec := AccuracyRecord{
		Market: "us", Symbol: "AAPL", ReportDate: "2024-03-01",
		ReportPrice: 100, CompareDate: "2024-03-08", ComparePrice: 105,
		Prediction: "up", ActualDirection: "up", Hit: true,
	}
	if err := s.SaveAccuracy(rec); err != nil {
		t.Fatalf("SaveAccuracy: %v", err)
	}
	if err := s.SaveAccuracy(rec); err != nil {
		t.Fatalf("SaveAccuracy rerun: %v", err)
	}
	n, _ := s.CountRows("accuracy")
	if n != 1 {
		t.Fatalf("accuracy upsert duplicated: %d rows", n)
	}
}

func TestLoadPipelineContext(t *testing.T) {
	s, _ := openTestStore(t)

	rows := priceFixture()
	if err := s.SavePrices("us", "AAPL", rows); err != nil {
		t.Fatalf("SavePrices: %v", err)
	}
	if err := s.SaveIndicators("us", "AAPL", indicators.Compute(rows)); err != nil {
		t.Fatalf("SaveIndicators: %v", err)
	}
	if err := s.SaveNews("us", "AAPL", []dataflows.Item{
		{Title: "old", URL: "https://example.com/1", PublishedAt: "2024-03-01T00:00:00Z", Source: "google_news"},
		{Title: "new", URL: "https://example.com/2", PublishedAt: "2024-03-04T00:00:00Z", Source: "google_news"},
	}); err != nil {
		t.Fatalf("SaveNews: %v", err)
	}

	ctx, err := s.LoadPipelineContext("us", []string{"AAPL", "MSFT"})
	if err != nil {
		t.Fatalf("LoadPipelineContext: %v", err)
	}
	aapl, ok := ctx["AAPL"]
	if !ok {
		t.Fatal("AAPL context missing")
	}
	if aapl.Indicators == nil || aapl.Indicators.Date != "2024-03-04" {
		t.Fatalf("latest indicator row expected, got %+v", aapl.Indicators)
	}
	if len(aapl.News) != 2 || aapl.News[0].Title != "new" {
		t.Fatalf("news not ordered by published_at desc: %+v", aapl.News)
	}
	if _, ok := ctx["MSFT"]; ok {
		t.Fatal("symbol without data must be omitted")
	}
}

func TestOpenConfiguresEveryPooledConnection(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	// Hold several connections open at once so the pool cannot hand
	// the same one back.
	for i := 0; i < 3; i++ {
		conn, err := s.db.Conn(ctx)
		if err != nil {
			t.Fatalf("conn %d: %v", i, err)
		}
		defer conn.Close()

		var ms int
		if err := conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&ms); err != nil {
			t.Fatalf("busy_timeout conn %d: %v", i, err)
		}
		if ms != 1000 {
			t.Fatalf("busy_timeout on conn %d: %d ms, want 1000", i, ms)
		}
		var mode string
		if err := conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
			t.Fatalf("journal_mode conn %d: %v", i, err)
		}
		if mode != "wal" {
			t.Fatalf("journal_mode on conn %d: %q, want wal", i, mode)
		}
	}
}
