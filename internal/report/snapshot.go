// Package report builds the daily market brief: price snapshots,
// institutional flows, an AI summary with per-symbol predictions, a
// prediction accuracy check against earlier reports, and the LINE push.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/equity"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Snapshot is the per-symbol market state used in the brief.
type Snapshot struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePct     float64 `json:"change_pct"`
	PreviousClose float64 `json:"previous_close"`
	Volume        float64 `json:"volume"`
	MA50          float64 `json:"ma50"`
	MA200         float64 `json:"ma200"`
	EarningsDate  string  `json:"earnings_date"`
	EarningsToday bool    `json:"earnings_today"`
}

// IndexSymbols returns the benchmark indices tracked for a market.
func IndexSymbols(market string) []string {
	if market == "tw" {
		return []string{"^TWII"}
	}
	return []string{"^GSPC", "^IXIC", "^DJI"}
}

// Collector fetches snapshots from Yahoo Finance. history and earnings
// are swappable for tests.
type Collector struct {
	Log     *logrus.Logger
	Retries int
	Delay   time.Duration

	history  func(symbol string, start, end time.Time) ([]bar, error)
	earnings func(symbol string) (time.Time, error)
	sleep    func(time.Duration)
}

type bar struct {
	Close  float64
	Volume float64
}

func NewCollector(log *logrus.Logger) *Collector {
	return &Collector{
		Log:      log,
		Retries:  3,
		Delay:    1500 * time.Millisecond,
		history:  yahooHistory,
		earnings: yahooEarnings,
		sleep:    time.Sleep,
	}
}

// Collect builds snapshots for the given symbols as of now. A symbol
// whose history cannot be fetched is logged and skipped.
func (c *Collector) Collect(symbols []string, now time.Time) []Snapshot {
	snapshots := make([]Snapshot, 0, len(symbols))
	for _, symbol := range symbols {
		snap, err := c.collectOne(symbol, now)
		if err != nil {
			c.Log.WithError(err).WithField("symbol", symbol).Warn("snapshot failed, skipping")
			continue
		}
		c.Log.WithFields(logrus.Fields{"symbol": symbol, "price": snap.Price}).Debug("snapshot collected")
		snapshots = append(snapshots, snap)
	}
	return snapshots
}

func (c *Collector) collectOne(symbol string, now time.Time) (Snapshot, error) {
	bars, err := c.fetchWithRetry(symbol, now.AddDate(-1, 0, 0), now)
	if err != nil {
		return Snapshot{}, err
	}
	if len(bars) == 0 {
		return Snapshot{}, fmt.Errorf("no price history for %s", symbol)
	}

	latest := bars[len(bars)-1]
	previous := latest
	if len(bars) > 1 {
		previous = bars[len(bars)-2]
	}
	price := decimal.NewFromFloat(latest.Close)
	prev := decimal.NewFromFloat(previous.Close)
	change := price.Sub(prev)
	changePct := decimal.Zero
	if !prev.IsZero() {
		changePct = change.Div(prev).Mul(decimal.NewFromInt(100))
	}

	snap := Snapshot{
		Symbol:        symbol,
		Price:         latest.Close,
		Change:        change.InexactFloat64(),
		ChangePct:     changePct.InexactFloat64(),
		PreviousClose: previous.Close,
		Volume:        latest.Volume,
		MA50:          tailMean(bars, 50),
		MA200:         tailMean(bars, 200),
	}

	// Indices have no earnings calendar; a failed lookup is not worth
	// dropping the snapshot over.
	if !strings.HasPrefix(symbol, "^") {
		ts, err := c.earnings(symbol)
		switch {
		case err != nil:
			c.Log.WithError(err).WithField("symbol", symbol).Debug("earnings lookup failed")
		case !ts.IsZero():
			day := ts.In(now.Location()).Format("2006-01-02")
			snap.EarningsDate = day
			snap.EarningsToday = day == now.Format("2006-01-02")
		}
	}
	return snap, nil
}

func (c *Collector) fetchWithRetry(symbol string, start, end time.Time) ([]bar, error) {
	var lastErr error
	for attempt := 1; attempt <= c.Retries; attempt++ {
		bars, err := c.history(symbol, start, end)
		if err == nil {
			return bars, nil
		}
		lastErr = err
		c.Log.WithError(err).WithFields(logrus.Fields{"symbol": symbol, "attempt": attempt}).Warn("history fetch failed")
		if attempt < c.Retries {
			c.sleep(c.Delay)
		}
	}
	return nil, lastErr
}

func tailMean(bars []bar, n int) float64 {
	if len(bars) == 0 {
		return 0
	}
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	sum := 0.0
	for _, b := range bars {
		sum += b.Close
	}
	return sum / float64(len(bars))
}

func yahooEarnings(symbol string) (time.Time, error) {
	q, err := equity.Get(symbol)
	if err != nil {
		return time.Time{}, fmt.Errorf("quote %s: %w", symbol, err)
	}
	if q == nil || q.EarningsTimestamp == 0 {
		return time.Time{}, nil
	}
	return time.Unix(int64(q.EarningsTimestamp), 0).UTC(), nil
}

func yahooHistory(symbol string, start, end time.Time) ([]bar, error) {
	iter := chart.Get(&chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	})

	var bars []bar
	for iter.Next() {
		b := iter.Bar()
		bars = append(bars, bar{
			Close:  b.Close.InexactFloat64(),
			Volume: float64(b.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("chart %s: %w", symbol, err)
	}
	return bars, nil
}
