package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"leadforge/services"
	"leadforge/utils"
)

type Dispatcher interface {
	RunCycle(ctx context.Context) (*services.CycleReport, error)
}

type StatsRoller interface {
	RollupDailyStats(ctx context.Context, day time.Time) (int, error)
}

// DispatchWorker runs dispatch cycles and the daily stats rollup on cron
// schedules. A run that is still going when the next one fires is skipped.
type DispatchWorker struct {
	dispatcher    Dispatcher
	stats         StatsRoller
	schedule      string
	statsSchedule string
	logger        *logrus.Logger
	now           func() time.Time
}

func NewDispatchWorker(dispatcher Dispatcher, stats StatsRoller, schedule, statsSchedule string, logger *logrus.Logger) *DispatchWorker {
	return &DispatchWorker{
		dispatcher:    dispatcher,
		stats:         stats,
		schedule:      schedule,
		statsSchedule: statsSchedule,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Start blocks until ctx is canceled, then waits for running jobs.
func (w *DispatchWorker) Start(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(
			cron.Recover(cron.PrintfLogger(w.logger)),
			cron.SkipIfStillRunning(cron.PrintfLogger(w.logger)),
		),
	)
	if _, err := c.AddFunc(w.schedule, func() { w.RunDispatch(ctx) }); err != nil {
		return err
	}
	if w.stats != nil && w.statsSchedule != "" {
		if _, err := c.AddFunc(w.statsSchedule, func() { w.RunRollup(ctx) }); err != nil {
			return err
		}
	}

	w.logger.WithFields(logrus.Fields{
		"schedule":       w.schedule,
		"stats_schedule": w.statsSchedule,
	}).Info("Dispatch worker started")
	c.Start()

	<-ctx.Done()
	w.logger.Info("Dispatch worker shutting down...")
	<-c.Stop().Done()
	return nil
}

func (w *DispatchWorker) RunDispatch(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	started := time.Now()
	report, err := w.dispatcher.RunCycle(ctx)
	if err != nil {
		utils.LogError("dispatch_cycle_failed", err, nil)
		return
	}
	if len(report.Campaigns) == 0 && report.RecoveredLeases == 0 {
		return
	}

	failed := 0
	for _, c := range report.Campaigns {
		failed += c.Failed
	}
	w.logger.WithFields(logrus.Fields{
		"campaigns":        len(report.Campaigns),
		"sent":             report.Sent(),
		"failed":           failed,
		"recovered_leases": report.RecoveredLeases,
		"duration":         time.Since(started).String(),
	}).Info("Dispatch cycle finished")
}

// RunRollup aggregates the previous UTC day.
func (w *DispatchWorker) RunRollup(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	day := w.now().AddDate(0, 0, -1)
	rows, err := w.stats.RollupDailyStats(ctx, day)
	if err != nil {
		utils.LogError("stats_rollup_failed", err, map[string]interface{}{"day": day.Format("2006-01-02")})
		return
	}
	w.logger.WithFields(logrus.Fields{
		"day":  day.Format("2006-01-02"),
		"rows": rows,
	}).Info("Daily stats rolled up")
}
