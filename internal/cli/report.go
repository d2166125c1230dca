package cli

import (
	"github.com/spf13/cobra"

	"github.com/stockcheck/stockcheck/internal/report"
)

func newReportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Build the daily brief, score earlier predictions and push it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(true); err != nil {
				return err
			}
			defer a.close()

			symbols, err := a.watchlist(a.market)
			if err != nil {
				return err
			}
			r := report.NewReporter(a.settings, a.store, a.http, a.log)
			return r.Run(cmd.Context(), a.market, symbols)
		},
	}
}
