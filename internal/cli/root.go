// Package cli wires the cobra command tree. All commands share one
// Settings load, one logger and one database handle built in the
// pre-run hook.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stockcheck/stockcheck/internal/config"
	"github.com/stockcheck/stockcheck/internal/httpclient"
	"github.com/stockcheck/stockcheck/internal/store"
)

// Version is stamped by the build.
var Version = "dev"

type app struct {
	settings *config.Settings
	log      *logrus.Logger
	store    *store.Store
	http     *httpclient.Client

	// flags
	market       string
	days         int
	configPath   string
	metadataPath string
	verbose      bool
	summaryJSON  bool
}

func (a *app) setup(openDB bool) error {
	// Missing .env is fine, env vars may come from the environment.
	_ = godotenv.Load()
	a.settings = config.FromEnv()

	a.log = logrus.New()
	a.log.SetLevel(logrus.InfoLevel)
	if a.verbose {
		a.log.SetLevel(logrus.DebugLevel)
	}
	if a.summaryJSON {
		// Stdout must carry only the summary object.
		a.log.SetOutput(io.Discard)
	}

	a.http = httpclient.New(a.settings)

	if openDB {
		st, err := store.Open(a.settings.DBPath, a.settings.BusyTimeout)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		if err := st.Migrate(); err != nil {
			st.Close()
			return fmt.Errorf("migrate database: %w", err)
		}
		a.store = st
	}
	return nil
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
}

// watchlist takes the market as a parameter rather than reading a
// field so concurrent scheduled jobs never share mutable state.
func (a *app) watchlist(market string) ([]string, error) {
	wl, err := config.LoadWatchlist(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("load watchlist: %w", err)
	}
	symbols := wl[market]
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no watchlist symbols for market %q in %s", market, a.configPath)
	}
	return symbols, nil
}

func (a *app) metadata() config.Metadata {
	meta, err := config.LoadMetadata(a.metadataPath)
	if err != nil {
		a.log.WithError(err).Warn("metadata unavailable, using defaults")
		return config.Metadata{}
	}
	return meta
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "stockcheck",
		Short:         "Daily market data pipeline and report for watch-listed symbols",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.market, "market", "us", "market to process (tw or us)")
	root.PersistentFlags().StringVar(&a.configPath, "config", "config/subscriptions.json", "watchlist file")
	root.PersistentFlags().StringVar(&a.metadataPath, "metadata", "config/symbols.json", "per-symbol metadata file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newPipelineCommand(a))
	root.AddCommand(newReportCommand(a))
	root.AddCommand(newScheduleCommand(a))
	root.AddCommand(newVersionCommand())
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "stockcheck:", err)
		return 1
	}
	return 0
}
