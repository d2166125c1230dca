package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings holds runtime configuration sourced from the environment.
// Credentials are optional; a missing credential degrades the provider
// that needs it to "no data" instead of failing the run.
type Settings struct {
	MaxWorkers  int
	MaxRetries  int
	BackoffBase time.Duration
	MinInterval time.Duration
	BusyTimeout time.Duration

	DBPath    string
	UserAgent string

	FinMindToken     string
	GeminiAPIKey     string
	OpenRouterAPIKey string
	LineChannelToken string
	LineUserID       string
}

func DefaultSettings() *Settings {
	return &Settings{
		MaxWorkers:  4,
		MaxRetries:  3,
		BackoffBase: 1500 * time.Millisecond,
		MinInterval: 500 * time.Millisecond,
		BusyTimeout: 30 * time.Second,
		DBPath:      "data/market_data.db",
		UserAgent:   "stockcheck/1.0 (personal research)",
	}
}

// FromEnv builds Settings from environment variables, falling back to
// defaults for anything unset or unparsable.
func FromEnv() *Settings {
	s := DefaultSettings()

	s.MaxWorkers = envInt("PIPELINE_MAX_WORKERS", s.MaxWorkers)
	s.MaxRetries = envInt("REQUEST_MAX_RETRIES", s.MaxRetries)
	s.BackoffBase = envSeconds("REQUEST_BACKOFF_SEC", s.BackoffBase)
	s.MinInterval = envSeconds("REQUEST_MIN_INTERVAL_SEC", s.MinInterval)
	s.BusyTimeout = envSeconds("SQLITE_BUSY_TIMEOUT_SEC", s.BusyTimeout)

	if v := strings.TrimSpace(os.Getenv("PIPELINE_DB_PATH")); v != "" {
		s.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("HTTP_USER_AGENT")); v != "" {
		s.UserAgent = v
	}

	s.FinMindToken = os.Getenv("FINMIND_API_KEY")
	s.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	s.OpenRouterAPIKey = os.Getenv("OPENROUTER_API_KEY")
	s.LineChannelToken = os.Getenv("LINE_CHANNEL_ACCESS_TOKEN")
	s.LineUserID = os.Getenv("LINE_USER_ID")

	return s
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return fallback
	}
	return time.Duration(f * float64(time.Second))
}

// Watchlist maps a market key ("tw", "us") to its subscribed symbols.
type Watchlist map[string][]string

// LoadWatchlist reads the subscriptions JSON file. A missing file is
// an empty watchlist, not an error; the caller decides whether an
// empty market is fatal.
func LoadWatchlist(path string) (Watchlist, error) {
	wl := Watchlist{}
	if err := readJSONFile(path, &wl); err != nil {
		return nil, err
	}
	return wl, nil
}

// SymbolMeta carries optional per-symbol provider identifiers.
type SymbolMeta struct {
	Query     string `json:"query"`
	CIK       string `json:"cik"`
	FinMindID string `json:"finmind_id"`
}

// Metadata is keyed by market then symbol.
type Metadata map[string]map[string]SymbolMeta

func LoadMetadata(path string) (Metadata, error) {
	md := Metadata{}
	if err := readJSONFile(path, &md); err != nil {
		return nil, err
	}
	return md, nil
}

// QueryFor returns the configured news/sentiment search query for a
// symbol, defaulting to "<symbol> stock".
func (m Metadata) QueryFor(market, symbol string) string {
	if entry, ok := m[market][symbol]; ok && entry.Query != "" {
		return entry.Query
	}
	return fmt.Sprintf("%s stock", symbol)
}

// CIKFor returns the SEC CIK for a US symbol, or "" when unknown.
func (m Metadata) CIKFor(symbol string) string {
	return m["us"][symbol].CIK
}

// FinMindIDFor returns the FinMind data id for a TW symbol, falling
// back to the symbol with its exchange suffix stripped.
func (m Metadata) FinMindIDFor(symbol string) string {
	if entry, ok := m["tw"][symbol]; ok && entry.FinMindID != "" {
		return entry.FinMindID
	}
	return StripTWSuffix(symbol)
}

// StripTWSuffix drops the exchange suffix from a TW symbol
// ("2330.TW" -> "2330").
func StripTWSuffix(symbol string) string {
	if i := strings.Index(symbol, "."); i >= 0 {
		return symbol[:i]
	}
	return symbol
}

func readJSONFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
