package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Notify receives the outcome of every scheduled refresh.
type Notify func(ctx context.Context, result RefreshResult, err error)

// StartRefreshScheduler refreshes on a standard 5-field cron expression
// (minute hour day-of-month month day-of-week) until ctx is cancelled.
// Examples: "0 6 * * *" (daily 6am), "*/30 * * * *" (every half hour).
// An empty schedule disables scheduled refreshes.
func StartRefreshScheduler(ctx context.Context, schedule string, loc *time.Location, r *Refresher, notify Notify, logger *zap.SugaredLogger) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		logger.Infof("refresh scheduler disabled (refresh_schedule not set)")
		return nil
	}
	if loc == nil {
		loc = time.Local
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid refresh_schedule '%s': %w", schedule, err)
	}
	logger.Infof("refresh scheduled cron=%q source=%s", schedule, r.Fetcher.Source())

	go func() {
		for {
			now := time.Now().In(loc)
			next := sched.Next(now)
			wait := next.Sub(now)
			logger.Infof("next refresh at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				logger.Infof("refresh scheduler stopped")
				return
			case <-timer.C:
			}

			result, refreshErr := r.Refresh(ctx)
			logger.Infof("scheduled refresh complete: %s", FormatRefreshSummary(result))
			if notify != nil {
				notify(ctx, result, refreshErr)
			}
		}
	}()
	return nil
}
