package actions_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/pullpilot/pullpilot/internal/actions"
	"github.com/pullpilot/pullpilot/internal/actions/mocks"
	"github.com/pullpilot/pullpilot/pkg/config"
	"github.com/pullpilot/pullpilot/pkg/container"
	"github.com/pullpilot/pullpilot/pkg/session"
)

var _ = ginkgo.Describe("RunUpdates", func() {
	var (
		cfg    config.Config
		client *mocks.MockClient
		runner *mocks.MockRunner
	)

	newProjectDir := func(name, composeContents string) string {
		dir := filepath.Join(cfg.BaseDir, name)
		gomega.Expect(os.MkdirAll(dir, 0o755)).To(gomega.Succeed())
		gomega.Expect(os.WriteFile(filepath.Join(dir, "compose.yaml"), []byte(composeContents), 0o600)).
			To(gomega.Succeed())

		return dir
	}

	ginkgo.BeforeEach(func() {
		cfg = config.Default()
		cfg.BaseDir = ginkgo.GinkgoT().TempDir()
		cfg.LogDir = ginkgo.GinkgoT().TempDir()
		cfg.DockerTimeout = "1"
		client = mocks.NewMockClient()
		runner = &mocks.MockRunner{ExplicitPull: true}
	})

	ginkgo.It("fails the whole run when discovery finds nothing", func() {
		_, err := actions.RunUpdates(context.Background(), client, runner, cfg)
		gomega.Expect(err).To(gomega.HaveOccurred())
	})

	ginkgo.It("classifies an untouched project as unchanged", func() {
		dir := newProjectDir("web", "services:\n  nginx:\n    image: nginx\n")
		client.SnapshotQueue = []container.Snapshot{
			{"nginx": "nginx:latest@sha256:aaa"},
			{"nginx": "nginx:latest@sha256:aaa"},
		}

		report, err := actions.RunUpdates(context.Background(), client, runner, cfg)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(report.Unchanged()).To(gomega.HaveLen(1))
		gomega.Expect(report.Changed()).To(gomega.BeEmpty())
		gomega.Expect(report.Failed()).To(gomega.BeEmpty())
		gomega.Expect(runner.PullCalls).To(gomega.Equal([]string{dir}))
		gomega.Expect(runner.UpCalls).To(gomega.Equal([]string{dir}))
	})

	ginkgo.It("detects changed services from the snapshot diff", func() {
		newProjectDir("web", "services:\n  nginx:\n    image: nginx\n  redis:\n    image: redis\n")
		client.SnapshotQueue = []container.Snapshot{
			{"nginx": "nginx:latest@sha256:aaa", "redis": "redis:7@sha256:ccc"},
			{"nginx": "nginx:latest@sha256:bbb", "redis": "redis:7@sha256:ccc"},
		}

		report, err := actions.RunUpdates(context.Background(), client, runner, cfg)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(report.Changed()).To(gomega.HaveLen(1))
		gomega.Expect(report.Changed()[0].ChangedServices).To(gomega.Equal([]string{"nginx"}))
	})

	ginkgo.It("counts a service appearing after up as changed", func() {
		newProjectDir("web", "services:\n  nginx:\n    image: nginx\n")
		client.SnapshotQueue = []container.Snapshot{
			{},
			{"nginx": "nginx:latest@sha256:aaa"},
		}

		report, err := actions.RunUpdates(context.Background(), client, runner, cfg)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(report.Changed()).To(gomega.HaveLen(1))
	})

	ginkgo.It("skips the explicit pull when the policy delegates it", func() {
		newProjectDir("web", "services:\n  nginx:\n    image: nginx\n")
		runner.ExplicitPull = false

		report, err := actions.RunUpdates(context.Background(), client, runner, cfg)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(report.Results).To(gomega.HaveLen(1))
		gomega.Expect(runner.PullCalls).To(gomega.BeEmpty())
		gomega.Expect(runner.UpCalls).To(gomega.HaveLen(1))
	})

	ginkgo.It("fails the project and skips up when pull fails", func() {
		newProjectDir("web", "services:\n  nginx:\n    image: nginx\n")
		runner.PullErr = errors.New("manifest unknown")

		report, err := actions.RunUpdates(context.Background(), client, runner, cfg)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(report.Failed()).To(gomega.HaveLen(1))
		gomega.Expect(report.Failed()[0].Err.Error()).To(gomega.ContainSubstring("compose pull failed"))
		gomega.Expect(runner.UpCalls).To(gomega.BeEmpty())
	})

	ginkgo.It("fails the project when up fails", func() {
		newProjectDir("web", "services:\n  nginx:\n    image: nginx\n")
		runner.UpErr = errors.New("exit status 1")

		report, err := actions.RunUpdates(context.Background(), client, runner, cfg)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(report.Failed()).To(gomega.HaveLen(1))
	})

	ginkgo.It("fails the project on an unparsable compose file", func() {
		newProjectDir("web", "services: [broken\n")

		report, err := actions.RunUpdates(context.Background(), client, runner, cfg)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(report.Failed()).To(gomega.HaveLen(1))
		gomega.Expect(runner.PullCalls).To(gomega.BeEmpty())
	})

	ginkgo.It("marks unhealthy projects failed but keeps the change flag", func() {
		newProjectDir("web", "services:\n  nginx:\n    image: nginx\n")
		client.SnapshotQueue = []container.Snapshot{
			{"nginx": "nginx:latest@sha256:aaa"},
			{"nginx": "nginx:latest@sha256:bbb"},
		}
		client.HealthIssues = []container.HealthIssue{
			{Container: "web-nginx-1", Reason: "health: unhealthy"},
		}

		report, err := actions.RunUpdates(context.Background(), client, runner, cfg)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(report.Failed()).To(gomega.HaveLen(1))

		result := report.Failed()[0]
		gomega.Expect(result.Changed).To(gomega.BeTrue())
		gomega.Expect(result.Classification()).To(gomega.Equal(session.StateFailed))
		gomega.Expect(result.HealthIssues).To(gomega.Equal([]string{"web-nginx-1: health: unhealthy"}))
	})

	ginkgo.It("continues with the next project after a failure", func() {
		newProjectDir("a-fails", "services: [broken\n")
		newProjectDir("b-succeeds", "services:\n  nginx:\n    image: nginx\n")

		report, err := actions.RunUpdates(context.Background(), client, runner, cfg)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(report.Results).To(gomega.HaveLen(2))
		gomega.Expect(report.Failed()).To(gomega.HaveLen(1))
		gomega.Expect(report.Unchanged()).To(gomega.HaveLen(1))
	})

	ginkgo.It("writes one log file per project", func() {
		newProjectDir("web", "services:\n  nginx:\n    image: nginx\n")
		newProjectDir("db", "services:\n  pg:\n    image: postgres\n")

		report, err := actions.RunUpdates(context.Background(), client, runner, cfg)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		entries, readErr := os.ReadDir(cfg.LogDir)
		gomega.Expect(readErr).NotTo(gomega.HaveOccurred())
		gomega.Expect(entries).To(gomega.HaveLen(2))

		for _, result := range report.Results {
			gomega.Expect(result.LogFile).NotTo(gomega.BeEmpty())
			gomega.Expect(result.LogFile).To(gomega.BeARegularFile())
		}
	})

	ginkgo.It("starts no projects on a canceled context", func() {
		newProjectDir("web", "services:\n  nginx:\n    image: nginx\n")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		report, err := actions.RunUpdates(ctx, client, runner, cfg)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(report.Results).To(gomega.BeEmpty())
		gomega.Expect(runner.UpCalls).To(gomega.BeEmpty())
	})

	ginkgo.It("aborts on a non-numeric DOCKER_TIMEOUT", func() {
		newProjectDir("web", "services:\n  nginx:\n    image: nginx\n")
		cfg.DockerTimeout = "soon"

		_, err := actions.RunUpdates(context.Background(), client, runner, cfg)
		gomega.Expect(err).To(gomega.MatchError(config.ErrInvalidNumber))
	})
})

var _ = ginkgo.Describe("RunMaintenance", func() {
	var (
		cfg    config.Config
		client *mocks.MockClient
	)

	ginkgo.BeforeEach(func() {
		cfg = config.Default()
		cfg.LogDir = ginkgo.GinkgoT().TempDir()
		client = mocks.NewMockClient()
	})

	ginkgo.It("does not prune when disabled", func() {
		actions.RunMaintenance(context.Background(), client, cfg)
		gomega.Expect(client.PruneImagesCalls).To(gomega.BeEmpty())
		gomega.Expect(client.PruneVolumesCalls).To(gomega.BeZero())
	})

	ginkgo.It("prunes images with the configured filter", func() {
		cfg.PruneEnabled = true
		cfg.PruneFilterUntil = "72h"

		actions.RunMaintenance(context.Background(), client, cfg)
		gomega.Expect(client.PruneImagesCalls).To(gomega.Equal([]string{"72h"}))
		gomega.Expect(client.PruneVolumesCalls).To(gomega.BeZero())
	})

	ginkgo.It("prunes volumes only when asked", func() {
		cfg.PruneEnabled = true
		cfg.PruneVolumes = true

		actions.RunMaintenance(context.Background(), client, cfg)
		gomega.Expect(client.PruneVolumesCalls).To(gomega.Equal(1))
	})

	ginkgo.It("suppresses pruning in dry-run mode", func() {
		cfg.PruneEnabled = true
		cfg.DryRun = true

		actions.RunMaintenance(context.Background(), client, cfg)
		gomega.Expect(client.PruneImagesCalls).To(gomega.BeEmpty())
	})
})
