package report

import (
	"fmt"
	"sort"
	"strings"
)

func formatSnapshot(s Snapshot) string {
	earnings := s.EarningsDate
	if earnings == "" {
		earnings = "N/A"
	}
	return fmt.Sprintf("%s %.2f (%+.2f, %+.2f%%) MA50 %.2f MA200 %.2f Earnings %s",
		s.Symbol, s.Price, s.Change, s.ChangePct, s.MA50, s.MA200, earnings)
}

func formatInstitutional(item Institutional) string {
	names := make([]string, 0, len(item.NetByName))
	for name := range item.NetByName {
		names = append(names, name)
	}
	sort.Strings(names)
	details := make([]string, 0, len(names))
	for _, name := range names {
		details = append(details, fmt.Sprintf("%s %+.0f", name, item.NetByName[name]))
	}
	line := fmt.Sprintf("%s %s Net %+.0f", item.Symbol, item.Date, item.TotalNet)
	if len(details) > 0 {
		line += " (" + strings.Join(details, ", ") + ")"
	}
	return line
}

// EarningsReminder lists the watchlist symbols reporting earnings on
// the brief's date.
func EarningsReminder(snapshots []Snapshot) string {
	var today []string
	for _, s := range snapshots {
		if s.EarningsToday {
			today = append(today, s.Symbol)
		}
	}
	return strings.Join(today, ", ")
}

// BuildMessage composes the pushed text brief.
func BuildMessage(market string, snapshots, indices []Snapshot, institutional []Institutional, summary, earningsReminder string, accuracyNotes []string) string {
	lines := []string{"Market: " + market}
	if earningsReminder != "" {
		lines = append(lines, "Earnings Today: "+earningsReminder)
	}
	lines = append(lines, "", "Watchlist:")
	for _, s := range snapshots {
		lines = append(lines, formatSnapshot(s))
	}
	lines = append(lines, "", "Indices:")
	for _, s := range indices {
		lines = append(lines, formatSnapshot(s))
	}

	if len(institutional) > 0 {
		lines = append(lines, "", "Institutional (FinMind):")
		for _, item := range institutional {
			lines = append(lines, formatInstitutional(item))
		}
	}

	if summary == "" {
		summary = "N/A"
	}
	lines = append(lines, "", "AI Summary:", summary)

	if len(accuracyNotes) > 0 {
		lines = append(lines, "", "Accuracy Check:")
		lines = append(lines, accuracyNotes...)
	}

	return strings.Join(lines, "\n")
}
