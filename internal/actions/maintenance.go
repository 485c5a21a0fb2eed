package actions

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/pullpilot/pullpilot/pkg/config"
	"github.com/pullpilot/pullpilot/pkg/container"
	"github.com/pullpilot/pullpilot/pkg/session"
)

// RunMaintenance performs the post-run housekeeping: the log retention
// sweep and, when enabled, image and volume pruning. Everything here is
// best effort and never changes the run's exit code.
func RunMaintenance(ctx context.Context, client container.Client, cfg config.Config) {
	days, err := cfg.RetentionDays()
	if err != nil {
		logrus.WithError(err).Warn("Skipping log retention sweep")
	} else {
		session.CleanupLogs(cfg.LogDir, days)
	}

	if !cfg.PruneEnabled {
		return
	}

	if cfg.DryRun {
		logrus.Info("Dry run, skipping prune")

		return
	}

	reclaimed, err := client.PruneImages(ctx, cfg.PruneFilterUntil)
	if err != nil {
		logrus.WithError(err).Warn("Image prune failed")
	} else {
		logrus.WithField("space_reclaimed", reclaimed).Info("Pruned dangling images")
	}

	if !cfg.PruneVolumes {
		return
	}

	reclaimed, err = client.PruneVolumes(ctx)
	if err != nil {
		logrus.WithError(err).Warn("Volume prune failed")
	} else {
		logrus.WithField("space_reclaimed", reclaimed).Info("Pruned unused volumes")
	}
}
