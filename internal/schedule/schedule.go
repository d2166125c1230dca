// Package schedule runs the daily pipeline and report as recurring
// jobs. One job per market, fired after the respective market close in
// its own timezone.
package schedule

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"github.com/stockcheck/stockcheck/internal/report"
)

// Job runs one market's daily batch.
type Job func(ctx context.Context, market string) error

// MarketTimes maps each market to its local fire time, after close.
var MarketTimes = map[string]string{
	"tw": "14:30",
	"us": "17:00",
}

// Scheduler wires one gocron job per market.
type Scheduler struct {
	Log *logrus.Logger
	Job Job

	crons []*gocron.Scheduler
}

func New(log *logrus.Logger, job Job) *Scheduler {
	return &Scheduler{Log: log, Job: job}
}

// Start registers jobs for the given markets. Each market gets its own
// gocron scheduler pinned to the market timezone so "14:30" means
// local close time regardless of where the process runs.
func (s *Scheduler) Start(ctx context.Context, markets []string) error {
	for _, market := range markets {
		at, ok := MarketTimes[market]
		if !ok {
			at = MarketTimes["us"]
		}
		market := market

		cron := gocron.NewScheduler(report.MarketLocation(market))
		_, err := cron.Every(1).Day().At(at).Do(func() {
			log := s.Log.WithField("market", market)
			log.Info("scheduled run start")
			if err := s.Job(ctx, market); err != nil {
				log.WithError(err).Error("scheduled run failed")
				return
			}
			log.Info("scheduled run done")
		})
		if err != nil {
			return err
		}
		cron.StartAsync()
		s.crons = append(s.crons, cron)
		s.Log.WithFields(logrus.Fields{"market": market, "at": at}).Info("job scheduled")
	}
	return nil
}

// Wait blocks until the context is canceled, then stops all jobs.
func (s *Scheduler) Wait(ctx context.Context) {
	<-ctx.Done()
	for _, cron := range s.crons {
		cron.Stop()
	}
}

// NextRuns reports the next fire time per market, for logging at start.
func (s *Scheduler) NextRuns() []time.Time {
	times := make([]time.Time, 0, len(s.crons))
	for _, cron := range s.crons {
		if jobs := cron.Jobs(); len(jobs) > 0 {
			times = append(times, jobs[0].NextRun())
		}
	}
	return times
}
