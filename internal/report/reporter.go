package report

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stockcheck/stockcheck/internal/config"
	"github.com/stockcheck/stockcheck/internal/httpclient"
	"github.com/stockcheck/stockcheck/internal/store"
)

// ErrNoSnapshots makes a report run fatal when not a single watchlist
// symbol could be priced.
var ErrNoSnapshots = errors.New("no snapshots collected")

// Reporter runs the full daily brief for one market.
type Reporter struct {
	Settings  *config.Settings
	Store     *store.Store
	HTTP      *httpclient.Client
	Log       *logrus.Logger
	Collector *Collector

	// Summarizers are tried in order until one returns usable output.
	Summarizers []Summarizer
	Notifier    Notifier

	// now is swappable for tests.
	now func() time.Time
}

func NewReporter(s *config.Settings, st *store.Store, hc *httpclient.Client, log *logrus.Logger) *Reporter {
	r := &Reporter{
		Settings:  s,
		Store:     st,
		HTTP:      hc,
		Log:       log,
		Collector: NewCollector(log),
		Notifier:  NewNotifier(hc, s.LineChannelToken, s.LineUserID, log),
		now:       time.Now,
	}
	if s.GeminiAPIKey != "" {
		r.Summarizers = append(r.Summarizers, &GeminiSummarizer{HTTP: hc, APIKey: s.GeminiAPIKey})
	}
	if s.OpenRouterAPIKey != "" {
		r.Summarizers = append(r.Summarizers, &OpenRouterSummarizer{HTTP: hc, APIKey: s.OpenRouterAPIKey})
	}
	return r
}

// MarketLocation is the timezone whose calendar date stamps the report.
func MarketLocation(market string) *time.Location {
	name := "America/New_York"
	if market == "tw" {
		name = "Asia/Taipei"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Run collects data, summarizes, persists the report, scores earlier
// predictions and pushes the brief.
func (r *Reporter) Run(ctx context.Context, market string, watchlist []string) error {
	now := r.now().In(MarketLocation(market))
	reportDate := now.Format("2006-01-02")
	log := r.Log.WithFields(logrus.Fields{"market": market, "date": reportDate})
	log.WithField("watchlist", len(watchlist)).Info("report run start")

	snapshots := r.Collector.Collect(watchlist, now)
	if len(snapshots) == 0 {
		return ErrNoSnapshots
	}
	indices := r.Collector.Collect(IndexSymbols(market), now)
	log.WithFields(logrus.Fields{"snapshots": len(snapshots), "indices": len(indices)}).Info("market data collected")

	var institutional []Institutional
	if market == "tw" {
		for _, symbol := range watchlist {
			item, err := InstitutionalFlows(ctx, r.HTTP, r.Settings.FinMindToken, symbol, now)
			if err != nil {
				log.WithError(err).WithField("symbol", symbol).Warn("institutional fetch failed")
				continue
			}
			if item != nil {
				institutional = append(institutional, *item)
			}
		}
	}

	pipelineCtx, err := r.Store.LoadPipelineContext(market, watchlist)
	if err != nil {
		log.WithError(err).Warn("pipeline context unavailable")
		pipelineCtx = nil
	}

	symbols := make([]string, len(snapshots))
	for i, s := range snapshots {
		symbols[i] = s.Symbol
	}
	data := PromptData{
		Market:        market,
		Timestamp:     now.Format(time.RFC3339),
		Watchlist:     snapshots,
		Indices:       indices,
		Institutional: institutional,
		Pipeline:      pipelineCtx,
	}
	analysis := r.summarize(ctx, log, data, symbols)

	rows := make([]store.ReportRow, len(snapshots))
	for i, s := range snapshots {
		rows[i] = store.ReportRow{
			Symbol:     s.Symbol,
			Price:      s.Price,
			Summary:    analysis.Summary,
			Prediction: analysis.Predictions[s.Symbol],
		}
	}
	if err := r.Store.SaveReports(market, reportDate, rows); err != nil {
		return err
	}

	comparator := &Comparator{Store: r.Store, Log: r.Log, Lookback: DefaultLookback}
	notes, err := comparator.Run(market, reportDate, snapshots, analysis.Predictions)
	if err != nil {
		log.WithError(err).Warn("accuracy comparison failed")
	}
	log.WithField("checks", len(notes)).Info("accuracy comparison done")

	text := BuildMessage(market, snapshots, indices, institutional, analysis.Summary, EarningsReminder(snapshots), notes)
	if err := r.Notifier.Push(ctx, text); err != nil {
		log.WithError(err).Warn("notification failed")
	}
	return nil
}

// summarize walks the summarizer chain. The first response carrying a
// valid JSON object wins; when every summarizer fails or none is
// configured the static fallback is used with all predictions unknown.
func (r *Reporter) summarize(ctx context.Context, log *logrus.Entry, data PromptData, symbols []string) Analysis {
	prompt := BuildPrompt(data)
	for _, s := range r.Summarizers {
		raw, err := s.Summarize(ctx, prompt)
		if err != nil {
			log.WithError(err).WithField("summarizer", s.Name()).Warn("summarizer failed, trying next")
			continue
		}
		analysis := ParseAnalysis(raw, symbols)
		if analysis.ValidJSON {
			log.WithField("summarizer", s.Name()).Info("summary generated")
			return analysis
		}
		log.WithField("summarizer", s.Name()).Warn("summarizer output not valid JSON, trying next")
	}

	log.Info("using fallback summary")
	analysis := Analysis{
		Summary:     FallbackSummary(data),
		Predictions: make(map[string]string, len(symbols)),
	}
	for _, s := range symbols {
		analysis.Predictions[s] = "unknown"
	}
	return analysis
}
