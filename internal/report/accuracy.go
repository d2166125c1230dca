package report

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/stockcheck/stockcheck/internal/store"
)

// DefaultLookback is how many prior reports back the comparator reaches
// when scoring a prediction.
const DefaultLookback = 7

// Comparator scores earlier predictions against today's realized price.
type Comparator struct {
	Store    *store.Store
	Log      *logrus.Logger
	Lookback int
}

// Run evaluates one prior report per snapshot. The target is the
// Lookback-th most recent report strictly before compareDate, or the
// oldest available when fewer exist. Reports whose stored prediction
// is "unknown" are left unscored. Each result is upserted keyed by the
// prior report's date, so a re-run of the same day overwrites rather
// than duplicates.
func (c *Comparator) Run(market, compareDate string, snapshots []Snapshot, predictions map[string]string) ([]string, error) {
	lookback := c.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}

	var notes []string
	for _, snap := range snapshots {
		dates, err := c.Store.PriorReportDates(market, snap.Symbol, compareDate, lookback)
		if err != nil {
			return notes, fmt.Errorf("prior reports %s: %w", snap.Symbol, err)
		}
		if len(dates) == 0 {
			continue
		}
		// dates is newest first and holds at most lookback entries,
		// so the last one is either the Nth most recent or the oldest
		// prior report on record.
		target := dates[len(dates)-1]

		reportPrice, prediction, found, err := c.Store.ReportAt(market, snap.Symbol, target)
		if err != nil {
			return notes, fmt.Errorf("report lookup %s: %w", snap.Symbol, err)
		}
		if !found || prediction == "unknown" {
			continue
		}
		if prediction == "" {
			prediction = predictions[snap.Symbol]
			if prediction == "" {
				prediction = "unknown"
			}
		}

		actual := "neutral"
		switch {
		case snap.Price > reportPrice:
			actual = "up"
		case snap.Price < reportPrice:
			actual = "down"
		}
		hit := prediction == actual

		rec := store.AccuracyRecord{
			Market:          market,
			Symbol:          snap.Symbol,
			ReportDate:      target,
			ReportPrice:     reportPrice,
			CompareDate:     compareDate,
			ComparePrice:    snap.Price,
			Prediction:      prediction,
			ActualDirection: actual,
			Hit:             hit,
		}
		if err := c.Store.SaveAccuracy(rec); err != nil {
			return notes, fmt.Errorf("save accuracy %s: %w", snap.Symbol, err)
		}

		status := "MISS"
		if hit {
			status = "HIT"
		}
		notes = append(notes, fmt.Sprintf("%s: predicted %s, actual %s (%s)", snap.Symbol, prediction, actual, status))
	}
	return notes, nil
}
