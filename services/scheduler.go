// services/scheduler.go
package services

import (
	"context"
	"fmt"
	"time"

	"wildlife-rewards/models"
	"wildlife-rewards/utils"

	"github.com/go-co-op/gocron/v2"
)

// StartLeaderboardScheduler refreshes every board on an interval and archives the closing
// weekly (Monday 00:00 UTC) and monthly (1st 00:00 UTC) standings.
func (a *LeaderboardAggregator) StartLeaderboardScheduler(ctx context.Context, every time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC), gocron.WithClock(a.Clock))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			if err := a.Refresh(ctx); err != nil {
				utils.LogError("❌ [Scheduler] leaderboard refresh failed: %v", err)
			}
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, fmt.Errorf("schedule refresh: %w", err)
	}

	for crontab, window := range map[string]models.LeaderboardType{
		"0 0 * * 1": models.LeaderboardWeekly,
		"0 0 1 * *": models.LeaderboardMonthly,
	} {
		window := window
		if _, err := sched.NewJob(
			gocron.CronJob(crontab, false),
			gocron.NewTask(func() {
				if _, err := a.ArchiveClosedPeriod(ctx, window); err != nil {
					utils.LogError("❌ [Scheduler] %s archive failed: %v", window, err)
				}
				if err := a.Refresh(ctx); err != nil {
					utils.LogError("❌ [Scheduler] post-reset refresh failed: %v", err)
				}
			}),
		); err != nil {
			return nil, fmt.Errorf("schedule %s archive: %w", window, err)
		}
	}

	sched.Start()
	utils.LogInfo("⏱️ [Scheduler] leaderboard refresh every %s, weekly/monthly archives enabled", every)
	return sched, nil
}
