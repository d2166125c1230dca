// Package dataflows holds the per-provider source adapters. Each
// adapter returns a normalized record list; "no data" is an empty
// list, and only transport or parse problems surface as errors.
package dataflows

import (
	"sort"
	"time"
)

const dateLayout = "2006-01-02"

// PriceRow is one daily OHLCV bar. Date is a calendar day in
// YYYY-MM-DD form; Source names the adapter that produced the row.
type PriceRow struct {
	Date   string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Source string
}

// Item is a fetched news or sentiment entry. Score is only meaningful
// for sentiment sources and stays zero elsewhere.
type Item struct {
	Title       string
	URL         string
	PublishedAt string
	Source      string
	Score       float64
}

// FilterByDate keeps rows inside the inclusive [start, end] window and
// returns them sorted strictly ascending by date. The window spans
// whole calendar days: the time of day of start and end is ignored, so
// a row dated exactly on either boundary stays in. Rows with
// unparsable dates are dropped; on a duplicate date the later row in
// provider order wins.
func FilterByDate(rows []PriceRow, start, end time.Time) []PriceRow {
	startDay := start.Format(dateLayout)
	endDay := end.Format(dateLayout)

	byDate := make(map[string]PriceRow, len(rows))
	for _, row := range rows {
		if _, err := time.Parse(dateLayout, row.Date); err != nil {
			continue
		}
		if row.Date < startDay || row.Date > endDay {
			continue
		}
		byDate[row.Date] = row
	}

	filtered := make([]PriceRow, 0, len(byDate))
	for _, row := range byDate {
		filtered = append(filtered, row)
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Date < filtered[j].Date
	})
	return filtered
}

// Cap returns at most n leading items.
func Cap(items []Item, n int) []Item {
	if len(items) > n {
		return items[:n]
	}
	return items
}
