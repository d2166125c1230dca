package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stockcheck/stockcheck/internal/dataflows"
	"github.com/stockcheck/stockcheck/internal/pipeline"
)

func newPipelineCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Fetch prices, indicators, news, sentiment and financials for the watchlist",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(true); err != nil {
				return err
			}
			defer a.close()
			return runPipeline(cmd.Context(), a, a.market)
		},
	}
	cmd.Flags().IntVar(&a.days, "days", 220, "price history window in days")
	cmd.Flags().BoolVar(&a.summaryJSON, "summary-json", false, "print the run summary as JSON on stdout")
	return cmd
}

func runPipeline(ctx context.Context, a *app, market string) error {
	symbols, err := a.watchlist(market)
	if err != nil {
		return err
	}

	// Truncate to calendar days so the window keeps its first day
	// regardless of the run's clock time.
	now := time.Now().UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -a.days)

	src := &dataflows.Sources{HTTP: a.http, FinMindToken: a.settings.FinMindToken}
	plans := pipeline.BuildPlans(src, a.metadata(), market, symbols, start, end)

	runner := &pipeline.Runner{
		Store:        a.store,
		Log:          a.log,
		Workers:      a.settings.MaxWorkers,
		NewsCap:      10,
		SentimentCap: 10,
	}
	summary := runner.Run(ctx, plans, start, end)

	if a.summaryJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
		return nil
	}

	a.log.WithField("totals", fmt.Sprintf("%+v", summary.Totals)).Info("pipeline done")
	return nil
}
