package actions

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pullpilot/pullpilot/pkg/compose"
	"github.com/pullpilot/pullpilot/pkg/config"
	"github.com/pullpilot/pullpilot/pkg/container"
	"github.com/pullpilot/pullpilot/pkg/discovery"
	"github.com/pullpilot/pullpilot/pkg/session"
)

// ComposeRunner is the compose CLI surface the update sequence needs.
type ComposeRunner interface {
	NeedsExplicitPull() bool
	Pull(ctx context.Context, dir, composeFile string, log io.Writer) error
	Up(ctx context.Context, dir, composeFile string, log io.Writer) error
}

// RunUpdates discovers the project set and updates each project in turn,
// strictly sequentially and in discovery order. Discovery and config errors
// are fatal; everything after that is recorded per project.
//
// A canceled context stops the run before the next project starts; projects
// never reached are not recorded.
func RunUpdates(
	ctx context.Context,
	client container.Client,
	runner ComposeRunner,
	cfg config.Config,
) (*session.Report, error) {
	projects, err := discovery.Discover(cfg)
	if err != nil {
		return nil, err
	}

	timeoutSeconds, err := cfg.TimeoutSeconds()
	if err != nil {
		return nil, err
	}

	healthTimeout := time.Duration(timeoutSeconds) * time.Second

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	report := session.NewReport(hostname)

	logrus.WithFields(logrus.Fields{
		"count":   len(projects),
		"dry_run": cfg.DryRun,
	}).Info("Starting project updates")

	for _, project := range projects {
		if ctx.Err() != nil {
			logrus.WithField("project", project.DisplayName).
				Warn("Run interrupted, remaining projects skipped")

			break
		}

		report.Add(updateProject(ctx, client, runner, cfg, project, healthTimeout))
	}

	report.Finished = time.Now()

	logrus.WithFields(logrus.Fields{
		"changed":   len(report.Changed()),
		"failed":    len(report.Failed()),
		"unchanged": len(report.Unchanged()),
	}).Info("Finished project updates")

	return report, nil
}

// updateProject runs the update sequence for one project. The first failing
// step short-circuits the rest, except the log file and timestamps which are
// always recorded.
func updateProject(
	ctx context.Context,
	client container.Client,
	runner ComposeRunner,
	cfg config.Config,
	project discovery.Project,
	healthTimeout time.Duration,
) *session.ProjectResult {
	result := &session.ProjectResult{
		Project: project,
		Started: time.Now(),
	}
	defer func() { result.Finished = time.Now() }()

	clog := logrus.WithField("project", project.DisplayName)
	clog.Info("Updating project")

	plog, err := session.OpenProjectLog(cfg.LogDir, project, result.Started)
	if err != nil {
		// The sequence still runs; only the attachment is lost.
		clog.WithError(err).Warn("Project log unavailable, command output will be discarded")
	}
	defer plog.Close()

	result.LogFile = plog.Path()

	plog.Printf("project: %s", project.Dir)

	plog.Section("config")

	file, err := compose.ParseFile(project.ComposeFile)
	if err != nil {
		return failResult(result, plog, clog, fmt.Errorf("%w: %w", errComposeParseFailed, err))
	}

	services := file.ServiceNames()
	plog.Printf("services: %s", strings.Join(services, ", "))

	projectName := project.ComposeProjectName()

	before, err := client.SnapshotProject(ctx, projectName, services)
	if err != nil {
		return failResult(result, plog, clog, fmt.Errorf("%w: %w", errSnapshotFailed, err))
	}

	if runner.NeedsExplicitPull() {
		plog.Section("pull")

		if err := runner.Pull(ctx, project.Dir, project.ComposeFile, plog.Writer()); err != nil {
			return failResult(result, plog, clog, fmt.Errorf("%w: %w", errPullFailed, err))
		}
	}

	plog.Section("up")

	if err := runner.Up(ctx, project.Dir, project.ComposeFile, plog.Writer()); err != nil {
		return failResult(result, plog, clog, fmt.Errorf("%w: %w", errUpFailed, err))
	}

	after, err := client.SnapshotProject(ctx, projectName, services)
	if err != nil {
		return failResult(result, plog, clog, fmt.Errorf("%w: %w", errSnapshotFailed, err))
	}

	result.ChangedServices = before.Diff(after)
	result.Changed = len(result.ChangedServices) > 0

	plog.Section("health")

	issues, err := client.WaitForProjectHealth(ctx, projectName, healthTimeout)
	if err != nil {
		return failResult(result, plog, clog, fmt.Errorf("%w: %w", errHealthCheckFailed, err))
	}

	if len(issues) > 0 {
		for _, issue := range issues {
			result.HealthIssues = append(result.HealthIssues, issue.String())
			plog.Printf("unhealthy: %s", issue)
		}

		return failResult(result, plog, clog,
			fmt.Errorf("%w: %d containers", errUnhealthy, len(issues)))
	}

	plog.Printf("result: %s", result.Classification())
	clog.WithFields(logrus.Fields{
		"state":    result.Classification(),
		"services": result.ChangedServices,
	}).Info("Project updated")

	return result
}

// failResult marks the sequence failed, keeping any change already detected.
func failResult(
	result *session.ProjectResult,
	plog *session.ProjectLog,
	clog *logrus.Entry,
	err error,
) *session.ProjectResult {
	result.Failed = true
	result.Err = err

	plog.Printf("error: %s", err)
	clog.WithError(err).Error("Project update failed")

	return result
}
