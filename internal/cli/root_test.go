package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func writeWatchlist(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "subscriptions.json")
	body := `{"tw": ["2330.TW"], "us": ["AAPL", "MSFT"]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write watchlist: %v", err)
	}
	return path
}

// Scheduled jobs for different markets run concurrently, so the
// watchlist lookup takes the market as a parameter and must not read
// or write the market flag field.
func TestWatchlistIgnoresMarketFlag(t *testing.T) {
	a := &app{market: "us", configPath: writeWatchlist(t)}

	symbols, err := a.watchlist("tw")
	if err != nil {
		t.Fatalf("watchlist: %v", err)
	}
	if len(symbols) != 1 || symbols[0] != "2330.TW" {
		t.Fatalf("tw watchlist wrong: %v", symbols)
	}
	if a.market != "us" {
		t.Fatalf("market flag mutated to %q", a.market)
	}
}

func TestWatchlistUnknownMarket(t *testing.T) {
	a := &app{configPath: writeWatchlist(t)}
	if _, err := a.watchlist("jp"); err == nil {
		t.Fatal("expected error for market with no symbols")
	}
}
