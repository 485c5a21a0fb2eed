// Package cmd contains the command-line interface (CLI) definitions and execution logic for PullPilot.
// It provides the root command, orchestrating the application's core functionality: project discovery,
// compose pulls and restarts, health verification, maintenance pruning, notification delivery, and
// optional cron scheduling. This package serves as the primary entry point for the PullPilot CLI.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pullpilot/pullpilot/internal/actions"
	"github.com/pullpilot/pullpilot/internal/flags"
	"github.com/pullpilot/pullpilot/internal/meta"
	"github.com/pullpilot/pullpilot/internal/scheduling"
	"github.com/pullpilot/pullpilot/pkg/compose"
	"github.com/pullpilot/pullpilot/pkg/config"
	"github.com/pullpilot/pullpilot/pkg/container"
	"github.com/pullpilot/pullpilot/pkg/lockfile"
	"github.com/pullpilot/pullpilot/pkg/notifications"
)

// Exit codes reported to the calling shell.
//
// exitFailedProjects distinguishes a run that completed but left at least one
// project in a failed state from a fatal error that aborted the run.
const (
	exitOK             = 0
	exitFatal          = 1
	exitFailedProjects = 2
)

// cfg holds the batch configuration loaded during preRun from the KEY=value
// configuration file, with command-line overrides already applied.
var cfg config.Config

// scheduleSpec holds the cron-formatted schedule string for repeated runs.
//
// It is populated during preRun from the --schedule flag or the
// PULLPILOT_SCHEDULE environment variable. When empty, PullPilot performs a
// single run and exits.
var scheduleSpec string

// rootCmd represents the root command for the PullPilot CLI.
var rootCmd = NewRootCommand()

// NewRootCommand creates and configures the root command for the PullPilot CLI.
//
// It establishes the base usage string, descriptions, and assigns the PreRun
// and Run functions to handle setup and execution.
//
// Returns:
//   - *cobra.Command: A pointer to the fully configured root command, ready for flag registration and execution.
func NewRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "pullpilot",
		Short:  "Pulls and recreates Docker Compose projects in one batch run",
		Long:   "\nPullPilot discovers Docker Compose projects, pulls fresh images, recreates the\nservices that changed, verifies their health, and mails a summary of the run.",
		Run:    run,
		PreRun: preRun,
		Args:   cobra.NoArgs,
	}
}

// init registers command-line flags for the root command during package initialization.
func init() {
	flags.SetDefaults()
	flags.RegisterDockerFlags(rootCmd)
	flags.RegisterSystemFlags(rootCmd)
}

// Execute runs the root command and manages any errors encountered during its execution.
//
// It serves as the primary entry point for the PullPilot CLI, called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("Failed to execute root command")
	}
}

// preRun prepares the environment and configuration before the main command execution begins.
//
// It processes flag aliases, configures logging, exports the Docker connection
// environment, loads the batch configuration file, and validates the result.
//
// Parameters:
//   - cmd: The cobra.Command instance being executed, providing access to parsed flags.
//   - _: A slice of string arguments (unused, the root command takes none).
func preRun(cmd *cobra.Command, _ []string) {
	flagsSet := cmd.PersistentFlags()
	flags.ProcessFlagAliases(flagsSet)

	if err := flags.SetupLogging(flagsSet); err != nil {
		logrus.WithError(err).Fatal("Failed to initialize logging")
	}

	scheduleSpec, _ = flagsSet.GetString("schedule")
	logrus.WithField("scheduleSpec", scheduleSpec).
		Debug("Retrieved cron schedule specification from flags")

	// Set Docker environment variables (e.g., DOCKER_HOST) based on flags for client initialization.
	if err := flags.EnvConfig(cmd); err != nil {
		logrus.WithError(err).Fatal("Failed to configure Docker environment")
	}

	confFile, _ := flagsSet.GetString("config")
	cfg = config.Load(confFile)

	// The command-line switch wins over the DRY_RUN configuration key.
	if dryRun, _ := flagsSet.GetBool("dry-run"); dryRun {
		cfg.DryRun = true
	}

	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
}

// run executes the main PullPilot logic based on parsed command-line flags.
//
// It performs a single batch run, or repeats runs on a cron schedule when
// --schedule is set, and exits with a status code based on the outcome:
// 0 for a clean run (or one skipped due to the lock), 1 for a fatal error,
// 2 when at least one project failed.
//
// Parameters:
//   - c: The cobra.Command instance being executed, providing access to parsed flags.
//   - _: A slice of string arguments (unused).
func run(c *cobra.Command, _ []string) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if scheduleSpec == "" {
		writeStartupMessage(c, time.Time{})

		if exitCode := runOnce(ctx); exitCode != exitOK {
			logrus.WithField("exit_code", exitCode).Debug("Exiting with non-zero status")
			os.Exit(exitCode)
		}

		return
	}

	// Scheduled mode: compute the first run time for the startup message, then
	// hand control to the scheduler until shutdown.
	sched, err := cron.Parse(scheduleSpec)
	if err != nil {
		logrus.WithError(err).WithField("schedule", scheduleSpec).Fatal("Invalid cron schedule")
	}

	writeStartupMessage(c, sched.Next(time.Now()))

	if err := scheduling.RunOnSchedule(ctx, scheduleSpec, nil, func(runCtx context.Context) {
		runOnce(runCtx)
	}); err != nil {
		logrus.WithError(err).Fatal("Failed to run on schedule")
	}
}

// runOnce performs one complete batch run: lock acquisition, update loop,
// maintenance, and notification.
//
// The summary email is best-effort and never changes the exit code; a run
// skipped because another instance holds the lock reports success.
//
// Parameters:
//   - ctx: The context controlling the run, canceled on SIGINT/SIGTERM.
//
// Returns:
//   - int: An exit code (0 clean or lock-skipped, 1 fatal, 2 failed projects).
func runOnce(ctx context.Context) int {
	lock, acquired, err := lockfile.Acquire(cfg.LockFile)
	if err != nil {
		logrus.WithError(err).WithField("lock_file", cfg.LockFile).Error("Failed to acquire lock")

		return exitFatal
	}

	if !acquired {
		logrus.WithField("lock_file", cfg.LockFile).
			Info("Another instance holds the lock, skipping this run")

		return exitOK
	}
	defer lock.Release()

	client, err := container.NewClient()
	if err != nil {
		logrus.WithError(err).Error("Failed to initialize Docker client")

		return exitFatal
	}

	runner, err := compose.NewRunner(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Error("Failed to initialize compose runner")

		return exitFatal
	}

	report, err := actions.RunUpdates(ctx, client, runner, cfg)
	if err != nil {
		logrus.WithError(err).Error("Batch run aborted")

		return exitFatal
	}

	actions.RunMaintenance(ctx, client, cfg)

	// Notification failures are logged but never fail the run. A fresh context
	// lets the summary of an interrupted run still go out.
	notifier := notifications.NewNotifier(cfg)
	if err := notifier.SendReport(context.Background(), report); err != nil {
		logrus.WithError(err).Error("Failed to send summary notification")
	}

	if failed := len(report.Failed()); failed > 0 {
		logrus.WithField("failed", failed).Warn("Run completed with failed projects")

		return exitFailedProjects
	}

	return exitOK
}

// writeStartupMessage logs startup information based on configuration flags.
//
// It reports PullPilot's version, the project source, the notification
// transport, and scheduling information, unless --no-startup-message is set.
//
// Parameters:
//   - c: The cobra.Command instance, providing access to flags like --no-startup-message.
//   - sched: The time.Time of the first scheduled run, or zero for a single run.
func writeStartupMessage(c *cobra.Command, sched time.Time) {
	if noStartupMessage, _ := c.PersistentFlags().GetBool("no-startup-message"); noStartupMessage {
		return
	}

	logrus.Info("PullPilot ", meta.Version)

	if cfg.ProjectsFile != "" {
		logrus.WithField("projects_file", cfg.ProjectsFile).Info("Using explicit project list")
	} else {
		logrus.WithField("base_dir", cfg.BaseDir).Info("Scanning for compose projects")
	}

	if cfg.EmailTo == "" {
		logrus.Info("Using no notifications")
	} else {
		logrus.WithField("recipients", cfg.EmailTo).Info("Mailing run summaries")
	}

	if cfg.DryRun {
		logrus.Info("Dry-run mode: compose commands will be logged, not executed")
	}

	logScheduleInfo(sched)

	// Warn about trace-level logging if enabled, as it may expose sensitive data.
	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		logrus.Warn(
			"Trace level enabled: log will include sensitive information as credentials and tokens",
		)
	}
}

// logScheduleInfo logs information about the scheduling or run mode configuration.
//
// Parameters:
//   - sched: The time.Time of the first scheduled run, or zero if no schedule is set.
func logScheduleInfo(sched time.Time) {
	if sched.IsZero() {
		logrus.Info("Running a one time update.")

		return
	}

	until := formatDuration(time.Until(sched))
	logrus.Info("Scheduling first run: " + sched.Format("2006-01-02 15:04:05 -0700 MST"))
	logrus.Info("Note that the first check will be performed in " + until)
}

// formatDuration renders a duration as "1 hour, 2 minutes, 3 seconds".
// Zero-valued units are dropped; a zero duration comes out as "0 seconds".
func formatDuration(duration time.Duration) string {
	var parts []string

	appendUnit := func(value int64, unit string) {
		switch {
		case value == 1:
			parts = append(parts, "1 "+unit)
		case value > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", value, unit))
		}
	}

	appendUnit(int64(duration.Hours()), "hour")
	appendUnit(int64(duration.Minutes())%60, "minute")
	appendUnit(int64(duration.Seconds())%60, "second")

	if len(parts) == 0 {
		return "0 seconds"
	}

	return strings.Join(parts, ", ")
}
