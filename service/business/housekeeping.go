package business

import (
	"context"
	"time"
)

// HousekeepingReport summarises one housekeeping pass.
type HousekeepingReport struct {
	Replayed int
	TimedOut int64
	Purged   int64
}

// SweepTimeouts marks attempts that have been pending longer than the
// configured window as timed out.
func (e *Engine) SweepTimeouts(ctx context.Context) (int64, error) {
	now := e.now()
	count, err := e.statuses.TimeoutStale(ctx, now.Add(-e.cfg.PendingTimeout), now)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		e.log.WithField("count", count).
			WithField("window", e.cfg.PendingTimeout.String()).
			Info("pending payments timed out")
	}
	return count, nil
}

// PurgeCompleted deletes terminal attempts completed more than days ago. A
// non-positive days uses the configured retention.
func (e *Engine) PurgeCompleted(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = e.cfg.RetentionDays
	}
	cutoff := e.now().Add(-time.Duration(days) * 24 * time.Hour)
	count, err := e.statuses.PurgeTerminal(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	e.log.WithField("count", count).WithField("days", days).Info("purged completed payment statuses")
	return count, nil
}

// RunHousekeeping replays unmatched callbacks first so a late correlation
// settles before its attempt could be timed out.
func (e *Engine) RunHousekeeping(ctx context.Context, purge bool) (*HousekeepingReport, error) {
	report := &HousekeepingReport{}

	replayed, err := e.RetryUnmatched(ctx)
	if err != nil {
		return report, err
	}
	report.Replayed = replayed

	report.TimedOut, err = e.SweepTimeouts(ctx)
	if err != nil {
		return report, err
	}

	if purge {
		report.Purged, err = e.PurgeCompleted(ctx, 0)
		if err != nil {
			return report, err
		}
	}
	return report, nil
}
