package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stockcheck/stockcheck/internal/config"
	"github.com/stockcheck/stockcheck/internal/httpclient"
)

const finmindAPI = "https://api.finmindtrade.com/api/v4/data"

// Institutional is one symbol's three-institutional-investor net flows
// for the most recent trading date in the lookup window.
type Institutional struct {
	Symbol    string             `json:"symbol"`
	Date      string             `json:"date"`
	TotalNet  float64            `json:"total_net"`
	NetByName map[string]float64 `json:"net_by_name"`
}

// InstitutionalFlows fetches FinMind buy/sell data over a 14 day window
// ending at reportDate and nets it by investor name for the latest date.
// Returns nil when the token is absent or the dataset is empty.
func InstitutionalFlows(ctx context.Context, hc *httpclient.Client, token, symbol string, reportDate time.Time) (*Institutional, error) {
	return institutionalFrom(ctx, hc, finmindAPI, token, symbol, reportDate)
}

func institutionalFrom(ctx context.Context, hc *httpclient.Client, api, token, symbol string, reportDate time.Time) (*Institutional, error) {
	if token == "" {
		return nil, nil
	}

	resp, err := hc.Get(ctx, api, &httpclient.Request{Params: map[string]string{
		"dataset":    "TaiwanStockInstitutionalInvestorsBuySell",
		"data_id":    config.StripTWSuffix(symbol),
		"start_date": reportDate.AddDate(0, 0, -14).Format("2006-01-02"),
		"end_date":   reportDate.Format("2006-01-02"),
		"token":      token,
	}})
	if err != nil {
		return nil, fmt.Errorf("finmind institutional %s: %w", symbol, err)
	}

	var payload struct {
		Data []struct {
			Date       string           `json:"date"`
			Name       string           `json:"name"`
			Buy        *json.RawMessage `json:"buy"`
			Sell       *json.RawMessage `json:"sell"`
			BuyVolume  *json.RawMessage `json:"buy_volume"`
			SellVolume *json.RawMessage `json:"sell_volume"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("finmind institutional %s: %w", symbol, err)
	}
	if len(payload.Data) == 0 {
		return nil, nil
	}

	latest := ""
	for _, row := range payload.Data {
		if row.Date > latest {
			latest = row.Date
		}
	}

	grouped := map[string]float64{}
	total := 0.0
	for _, row := range payload.Data {
		if row.Date != latest {
			continue
		}
		name := strings.TrimSpace(row.Name)
		if name == "" {
			name = "Unknown"
		}
		buy, okB := rawNumber(row.Buy, row.BuyVolume)
		sell, okS := rawNumber(row.Sell, row.SellVolume)
		if !okB || !okS {
			continue
		}
		net := buy - sell
		grouped[name] += net
		total += net
	}

	return &Institutional{Symbol: symbol, Date: latest, TotalNet: total, NetByName: grouped}, nil
}

// rawNumber decodes the first present field, accepting both numeric
// and quoted-number encodings.
func rawNumber(fields ...*json.RawMessage) (float64, bool) {
	for _, raw := range fields {
		if raw == nil {
			continue
		}
		var f float64
		if err := json.Unmarshal(*raw, &f); err == nil {
			return f, true
		}
		var s string
		if err := json.Unmarshal(*raw, &s); err == nil {
			if _, err := fmt.Sscanf(s, "%f", &f); err == nil {
				return f, true
			}
		}
		return 0, false
	}
	return 0, false
}
