package dataflows

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"

	"github.com/stockcheck/stockcheck/internal/httpclient"
)

const finmindAPI = "https://api.finmindtrade.com/api/v4/data"

// Sources bundles the shared HTTP client with provider credentials.
type Sources struct {
	HTTP         *httpclient.Client
	FinMindToken string
}

func stooqSymbol(symbol string) string {
	return strings.ToLower(strings.TrimSpace(symbol)) + ".us"
}

// StooqDaily fetches the full daily history that stooq serves as CSV.
// Callers window the result with FilterByDate.
func (s *Sources) StooqDaily(ctx context.Context, symbol string) ([]PriceRow, error) {
	url := fmt.Sprintf("https://stooq.com/q/d/l/?s=%s&i=d", stooqSymbol(symbol))
	return s.stooqDailyFrom(ctx, url)
}

func (s *Sources) stooqDailyFrom(ctx context.Context, url string) ([]PriceRow, error) {
	resp, err := s.HTTP.Get(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(strings.NewReader(resp.String()))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("stooq csv: %w", err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	col := map[string]int{}
	for i, name := range records[0] {
		col[name] = i
	}

	rows := make([]PriceRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		date := field(rec, col, "Date")
		if date == "" {
			continue
		}
		rows = append(rows, PriceRow{
			Date:   date,
			Open:   parseFloat(field(rec, col, "Open")),
			High:   parseFloat(field(rec, col, "High")),
			Low:    parseFloat(field(rec, col, "Low")),
			Close:  parseFloat(field(rec, col, "Close")),
			Volume: parseFloat(field(rec, col, "Volume")),
			Source: "stooq",
		})
	}
	return rows, nil
}

type finmindResponse struct {
	Data []map[string]json.RawMessage `json:"data"`
}

// FinMindDaily fetches TaiwanStockPrice rows for one data id. Without
// a token the provider is degraded to "no data".
func (s *Sources) FinMindDaily(ctx context.Context, dataID string, start, end time.Time) ([]PriceRow, error) {
	if s.FinMindToken == "" {
		return nil, nil
	}
	return s.finMindDailyFrom(ctx, finmindAPI, dataID, start, end)
}

func (s *Sources) finMindDailyFrom(ctx context.Context, api, dataID string, start, end time.Time) ([]PriceRow, error) {
	resp, err := s.HTTP.Get(ctx, api, &httpclient.Request{
		Params: map[string]string{
			"dataset":    "TaiwanStockPrice",
			"data_id":    dataID,
			"start_date": start.Format(dateLayout),
			"end_date":   end.Format(dateLayout),
			"token":      s.FinMindToken,
		},
	})
	if err != nil {
		return nil, err
	}

	var payload finmindResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("finmind payload: %w", err)
	}

	rows := make([]PriceRow, 0, len(payload.Data))
	for _, item := range payload.Data {
		volume := rawFloat(item["Trading_Volume"])
		if volume == 0 {
			volume = rawFloat(item["Trading_volume"])
		}
		rows = append(rows, PriceRow{
			Date:   rawString(item["date"]),
			Open:   rawFloat(item["open"]),
			High:   rawFloat(item["max"]),
			Low:    rawFloat(item["min"]),
			Close:  rawFloat(item["close"]),
			Volume: volume,
			Source: "finmind",
		})
	}
	return rows, nil
}

// YahooDaily fetches daily bars through the Yahoo Finance chart API.
// Used as the fallback price source for both markets.
func (s *Sources) YahooDaily(ctx context.Context, symbol string, start, end time.Time) ([]PriceRow, error) {
	// The chart endpoint treats end as exclusive.
	endExclusive := end.AddDate(0, 0, 1)
	params := &chart.Params{
		Symbol:   strings.TrimSpace(symbol),
		Start:    datetime.New(&start),
		End:      datetime.New(&endExclusive),
		Interval: datetime.OneDay,
	}

	iter := chart.Get(params)
	var rows []PriceRow
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bar := iter.Bar()
		rows = append(rows, PriceRow{
			Date:   time.Unix(int64(bar.Timestamp), 0).UTC().Format(dateLayout),
			Open:   bar.Open.InexactFloat64(),
			High:   bar.High.InexactFloat64(),
			Low:    bar.Low.InexactFloat64(),
			Close:  bar.Close.InexactFloat64(),
			Volume: float64(bar.Volume),
			Source: "yahoo",
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("yahoo chart %s: %w", symbol, err)
	}
	return rows, nil
}

func field(rec []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

// rawString decodes a JSON scalar to a string without caring whether
// the provider sent it quoted.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}

func rawFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseFloat(s)
	}
	return 0
}
