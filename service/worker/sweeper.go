package worker

import (
	"context"
	"time"

	"github.com/antinvestor/service-chama/service/business"
	"github.com/sirupsen/logrus"
)

// Housekeeper is the engine surface the sweeper drives.
type Housekeeper interface {
	RunHousekeeping(ctx context.Context, purge bool) (*business.HousekeepingReport, error)
}

// Sweeper runs housekeeping on a fixed interval. Retention purges run once per
// purgeEvery ticks.
type Sweeper struct {
	Engine     Housekeeper
	Interval   time.Duration
	PurgeEvery int
	Log        *logrus.Entry
}

func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	purgeEvery := s.PurgeEvery
	if purgeEvery <= 0 {
		purgeEvery = 60
	}
	logger := s.Log
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("type", "sweeper")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.WithField("interval", interval.String()).Info("sweeper started")
	tick := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			tick++
			s.RunOnce(ctx, logger, tick%purgeEvery == 0)
		}
	}
}

func (s *Sweeper) RunOnce(ctx context.Context, logger *logrus.Entry, purge bool) {
	report, err := s.Engine.RunHousekeeping(ctx, purge)
	if err != nil {
		logger.WithError(err).Warn("housekeeping pass failed")
		return
	}
	if report.TimedOut > 0 || report.Replayed > 0 || report.Purged > 0 {
		logger.WithField("timed_out", report.TimedOut).
			WithField("replayed", report.Replayed).
			WithField("purged", report.Purged).
			Info("housekeeping pass complete")
	}
}
