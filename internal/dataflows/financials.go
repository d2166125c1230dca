package dataflows

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stockcheck/stockcheck/internal/httpclient"
)

// SECCompanyFacts fetches the XBRL companyfacts document for a CIK.
// The payload is kept opaque; only period_end is derived from it.
func (s *Sources) SECCompanyFacts(ctx context.Context, cik string) (json.RawMessage, error) {
	cik = strings.TrimSpace(cik)
	if cik == "" {
		return nil, nil
	}
	for len(cik) < 10 {
		cik = "0" + cik
	}
	url := fmt.Sprintf("https://data.sec.gov/api/xbrl/companyfacts/CIK%s.json", cik)
	resp, err := s.HTTP.Get(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resp.Body()), nil
}

// FinMindFinancials fetches TaiwanStockFinancialStatements for one
// data id. Without a token the provider is degraded to "no data".
func (s *Sources) FinMindFinancials(ctx context.Context, dataID string, start, end time.Time) (json.RawMessage, error) {
	if s.FinMindToken == "" {
		return nil, nil
	}
	resp, err := s.HTTP.Get(ctx, finmindAPI, &httpclient.Request{
		Params: map[string]string{
			"dataset":    "TaiwanStockFinancialStatements",
			"data_id":    dataID,
			"start_date": start.Format(dateLayout),
			"end_date":   end.Format(dateLayout),
			"token":      s.FinMindToken,
		},
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resp.Body()), nil
}

// ExtractPeriodEnd derives the newest reporting period date found in a
// financials payload. Supports both the flat FinMind "data" list and
// the SEC facts/units tree. Returns "" when no date can be derived,
// which is an accepted degraded state.
func ExtractPeriodEnd(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return ""
	}

	var dates []string

	if data, ok := doc["data"].([]any); ok {
		for _, entry := range data {
			item, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			for _, key := range []string{"date", "end_date", "period_end", "report_date"} {
				if v, ok := item[key].(string); ok && v != "" {
					dates = append(dates, v)
				}
			}
		}
	}

	if facts, ok := doc["facts"].(map[string]any); ok {
		for _, namespace := range facts {
			ns, ok := namespace.(map[string]any)
			if !ok {
				continue
			}
			for _, metric := range ns {
				m, ok := metric.(map[string]any)
				if !ok {
					continue
				}
				units, ok := m["units"].(map[string]any)
				if !ok {
					continue
				}
				for _, entries := range units {
					list, ok := entries.([]any)
					if !ok {
						continue
					}
					for _, entry := range list {
						e, ok := entry.(map[string]any)
						if !ok {
							continue
						}
						if end, ok := e["end"].(string); ok && end != "" {
							dates = append(dates, end)
						}
					}
				}
			}
		}
	}

	latest := ""
	for _, d := range dates {
		if d > latest {
			latest = d
		}
	}
	return latest
}

// EmptyPayload reports whether a financials payload carries nothing
// worth persisting.
func EmptyPayload(payload json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(payload))
	return trimmed == "" || trimmed == "{}" || trimmed == "null"
}
