package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stockcheck/stockcheck/internal/report"
	"github.com/stockcheck/stockcheck/internal/schedule"
)

func newScheduleCommand(a *app) *cobra.Command {
	var markets []string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run pipeline and report daily after each market close",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(true); err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// The market comes in as a parameter; the job must not
			// touch app fields, tw and us runs can overlap.
			job := func(ctx context.Context, market string) error {
				if err := runPipeline(ctx, a, market); err != nil {
					return err
				}
				symbols, err := a.watchlist(market)
				if err != nil {
					return err
				}
				r := report.NewReporter(a.settings, a.store, a.http, a.log)
				return r.Run(ctx, market, symbols)
			}

			s := schedule.New(a.log, job)
			if err := s.Start(ctx, markets); err != nil {
				return err
			}
			for _, next := range s.NextRuns() {
				a.log.WithField("next_run", next).Info("waiting")
			}
			s.Wait(ctx)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&markets, "markets", []string{"tw", "us"}, "markets to schedule")
	cmd.Flags().IntVar(&a.days, "days", 220, "price history window in days")
	return cmd
}
