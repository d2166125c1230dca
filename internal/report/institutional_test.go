package report

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stockcheck/stockcheck/internal/config"
	"github.com/stockcheck/stockcheck/internal/httpclient"
)

func TestInstitutionalFlowsNetsLatestDate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("dataset"); got != "TaiwanStockInstitutionalInvestorsBuySell" {
			t.Errorf("dataset = %q", got)
		}
		if got := r.URL.Query().Get("data_id"); got != "2330" {
			t.Errorf("data_id = %q, want TW suffix stripped", got)
		}
		w.Write([]byte(`{"data": [
			{"date": "2024-03-07", "name": "Foreign_Investor", "buy": 100, "sell": 50},
			{"date": "2024-03-08", "name": "Foreign_Investor", "buy": 300, "sell": 100},
			{"date": "2024-03-08", "name": "Investment_Trust", "buy_volume": 80, "sell_volume": 30},
			{"date": "2024-03-08", "name": "Dealer", "buy": 10}
		]}`))
	}))
	defer srv.Close()

	hc := httpclient.New(config.DefaultSettings())
	when := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	item, err := institutionalFrom(context.Background(), hc, srv.URL, "token", "2330.TW", when)
	if err != nil {
		t.Fatalf("institutionalFrom: %v", err)
	}
	if item == nil {
		t.Fatal("expected snapshot")
	}
	if item.Date != "2024-03-08" {
		t.Fatalf("latest date: %s", item.Date)
	}
	// Only 2024-03-08 rows count; the Dealer row lacks a sell side.
	if item.TotalNet != 250 {
		t.Fatalf("total net = %v", item.TotalNet)
	}
	if item.NetByName["Foreign_Investor"] != 200 || item.NetByName["Investment_Trust"] != 50 {
		t.Fatalf("net by name: %v", item.NetByName)
	}
	if _, ok := item.NetByName["Dealer"]; ok {
		t.Fatal("incomplete row must be dropped")
	}
}

func TestInstitutionalFlowsWithoutToken(t *testing.T) {
	hc := httpclient.New(config.DefaultSettings())
	item, err := InstitutionalFlows(context.Background(), hc, "", "2330.TW", time.Now())
	if err != nil || item != nil {
		t.Fatalf("missing token must degrade silently: item=%v err=%v", item, err)
	}
}
