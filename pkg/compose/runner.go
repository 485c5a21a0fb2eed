package compose

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pullpilot/pullpilot/pkg/config"
)

// Capabilities records which optional flags the resolved compose CLI
// understands, probed once per run from `up --help`.
type Capabilities struct {
	SupportsWait       bool
	SupportsQuietPull  bool
	SupportsPullPolicy bool
}

// ParseCapabilities scans help text for the optional flags PullPilot can
// take advantage of.
func ParseCapabilities(helpText string) Capabilities {
	return Capabilities{
		SupportsWait:       strings.Contains(helpText, "--wait"),
		SupportsQuietPull:  strings.Contains(helpText, "--quiet-pull"),
		SupportsPullPolicy: strings.Contains(helpText, "--pull"),
	}
}

// Runner invokes the compose CLI for one run's worth of projects. The
// binary, capability set and pull behavior are fixed at construction.
type Runner struct {
	bin            []string
	caps           Capabilities
	pullPolicy     string
	quietPull      bool
	timeoutSeconds int
	parallelLimit  int
	dryRun         bool
}

// NewRunner resolves and probes the compose CLI from the run configuration.
// Numeric settings are parsed here, their first arithmetic use; a
// non-numeric value aborts the run before any project work.
func NewRunner(ctx context.Context, cfg config.Config) (*Runner, error) {
	bin, err := cfg.ComposeCommand()
	if err != nil {
		return nil, err
	}

	timeout, err := cfg.TimeoutSeconds()
	if err != nil {
		return nil, err
	}

	parallel, err := cfg.ParallelPullLimit()
	if err != nil {
		return nil, err
	}

	runner := &Runner{
		bin:            bin,
		pullPolicy:     cfg.PullPolicy,
		quietPull:      cfg.QuietPull,
		timeoutSeconds: timeout,
		parallelLimit:  parallel,
		dryRun:         cfg.DryRun,
	}
	runner.caps = runner.probeCapabilities(ctx)

	return runner, nil
}

// probeCapabilities runs `up --help` once and scans the output. A failing
// probe degrades to an empty capability set rather than failing the run.
func (r *Runner) probeCapabilities(ctx context.Context) Capabilities {
	args := append(append([]string{}, r.bin[1:]...), "up", "--help")
	out, err := exec.CommandContext(ctx, r.bin[0], args...).CombinedOutput()
	if err != nil {
		logrus.WithError(err).WithField("compose_bin", strings.Join(r.bin, " ")).
			Warn("Compose capability probe failed, assuming a minimal CLI")

		return Capabilities{}
	}

	caps := ParseCapabilities(string(out))
	logrus.WithFields(logrus.Fields{
		"wait":        caps.SupportsWait,
		"quiet_pull":  caps.SupportsQuietPull,
		"pull_policy": caps.SupportsPullPolicy,
	}).Debug("Probed compose capabilities")

	return caps
}

// Capabilities returns the probed capability set.
func (r *Runner) Capabilities() Capabilities {
	return r.caps
}

// NeedsExplicitPull reports whether the run must issue `compose pull`
// before `up`. PULL_POLICY=never skips pulling entirely; PULL_POLICY=missing
// is delegated to `up --pull missing` when the CLI supports it, and falls
// through to an explicit pull when it does not.
func (r *Runner) NeedsExplicitPull() bool {
	switch r.pullPolicy {
	case "never":
		return false
	case "missing":
		return !r.caps.SupportsPullPolicy
	default:
		return true
	}
}

// Pull runs `compose pull` for the project rooted at dir.
func (r *Runner) Pull(ctx context.Context, dir, composeFile string, log io.Writer) error {
	args := []string{"-f", composeFile, "pull"}
	if r.quietPull {
		args = append(args, "--quiet")
	}

	return r.run(ctx, dir, log, args)
}

// Up runs `compose up -d --remove-orphans` for the project rooted at dir.
// The configured timeout doubles as the stop/recreate grace period and, when
// the CLI supports it, the readiness wait; the remaining optional flags
// follow the probed capability set.
func (r *Runner) Up(ctx context.Context, dir, composeFile string, log io.Writer) error {
	args := []string{
		"-f", composeFile,
		"up", "-d", "--remove-orphans",
		"-t", strconv.Itoa(r.timeoutSeconds),
	}

	if r.caps.SupportsWait {
		args = append(args, "--wait", "--wait-timeout", strconv.Itoa(r.timeoutSeconds))
	}

	if r.quietPull && r.caps.SupportsQuietPull {
		args = append(args, "--quiet-pull")
	}

	if r.caps.SupportsPullPolicy && r.pullPolicy != "always" && r.pullPolicy != "" {
		args = append(args, "--pull", r.pullPolicy)
	}

	return r.run(ctx, dir, log, args)
}

// run executes one compose invocation with stdout and stderr teed into the
// project log. In dry-run mode the command line is logged and not executed.
func (r *Runner) run(ctx context.Context, dir string, log io.Writer, args []string) error {
	argv := append(append([]string{}, r.bin...), args...)
	cmdline := strings.Join(argv, " ")

	if r.dryRun {
		logrus.WithField("command", cmdline).Info("Dry run, skipping compose invocation")
		fmt.Fprintf(log, "dry-run: %s\n", cmdline)

		return nil
	}

	logrus.WithFields(logrus.Fields{
		"dir":     dir,
		"command": cmdline,
	}).Debug("Running compose command")
	fmt.Fprintf(log, "+ %s\n", cmdline)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = log
	cmd.Stderr = log
	cmd.Env = r.commandEnv()

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("compose command %q in %q: %w", cmdline, dir, err)
	}

	return nil
}

// commandEnv passes the process environment through, adding the compose
// parallelism limit when PARALLEL_PULL is set.
func (r *Runner) commandEnv() []string {
	env := os.Environ()
	if r.parallelLimit > 0 {
		env = append(env, "COMPOSE_PARALLEL_LIMIT="+strconv.Itoa(r.parallelLimit))
	}

	return env
}
