// Package scheduling provides the watch mode of PullPilot: repeating the
// update run on a cron specification inside one long-lived process, with
// graceful shutdown on interrupt signals.
package scheduling

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"
)

// WaitForRunningUpdate blocks shutdown until an in-flight update run hands
// its lock token back, the context is canceled, or the grace period elapses.
// An available token means no run is in progress and shutdown can proceed
// immediately.
func WaitForRunningUpdate(ctx context.Context, lock chan bool) {
	const shutdownGrace = 60 * time.Second

	if len(lock) > 0 {
		logrus.Debug("No update run in progress")

		return
	}

	select {
	case <-lock:
		logrus.Debug("Running update finished")
	case <-time.After(shutdownGrace):
		logrus.Warn("Gave up waiting for the running update, shutting down anyway")
	case <-ctx.Done():
		logrus.Warn("Context canceled while waiting for the running update")
	}
}

// RunOnSchedule repeats the update run according to the cron specification.
//
// A buffered lock channel skips an invocation whose predecessor is still
// running; the per-run file lock still applies inside each invocation.
// SIGINT and SIGTERM (or context cancellation) stop the scheduler and wait
// for a running update to finish. A nil lock gets a fresh channel with its
// token pre-loaded. Returns an error only when the cron spec is invalid.
func RunOnSchedule(
	ctx context.Context,
	scheduleSpec string,
	lock chan bool,
	runUpdates func(context.Context),
) error {
	if lock == nil {
		lock = make(chan bool, 1)
		lock <- true
	}

	scheduler := cron.New()

	updateFunc := func() {
		select {
		case v := <-lock:
			defer func() { lock <- v }()

			runUpdates(ctx)
			logrus.Debug("Update run completed")
		default:
			logrus.Debug("Skipped, another update run still in progress")
		}

		nextRuns := scheduler.Entries()
		if len(nextRuns) > 0 {
			logrus.Debug("Scheduled next run: " + nextRuns[0].Next.String())
		}
	}

	if err := scheduler.AddFunc(scheduleSpec, updateFunc); err != nil {
		return fmt.Errorf("failed to schedule updates: %w", err)
	}

	if entries := scheduler.Entries(); len(entries) > 0 {
		logrus.WithField("next_run", entries[0].Schedule.Next(time.Now())).
			Info("Starting scheduled runs")
	}

	scheduler.Start()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		logrus.Debug("Context canceled, stopping scheduler...")
	case <-interrupt:
		logrus.Debug("Received interrupt signal, stopping scheduler...")
	}

	scheduler.Stop()
	logrus.Debug("Waiting for running update to be finished...")

	WaitForRunningUpdate(ctx, lock)

	logrus.Debug("Scheduler stopped and update completed.")

	return nil
}
