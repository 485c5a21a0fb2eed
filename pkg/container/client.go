// Package container wraps the Docker API for PullPilot: resolving compose
// project containers by label, snapshotting per-service image identities,
// checking health, and pruning.
package container

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/distribution/reference"
	dockerContainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockerClient "github.com/docker/docker/client"

	"github.com/pullpilot/pullpilot/pkg/compose"
)

// healthPollInterval is how often project health is re-checked while
// waiting for containers to settle.
const healthPollInterval = 5 * time.Second

// Client is the Docker-side surface the update run needs.
type Client interface {
	// SnapshotProject captures the per-service image identity of a project's
	// running containers. Services not in the declared set are ignored.
	SnapshotProject(ctx context.Context, projectName string, services []string) (Snapshot, error)
	// CheckProjectHealth returns one issue per project container that is not
	// running, or that defines a healthcheck and is not healthy.
	CheckProjectHealth(ctx context.Context, projectName string) ([]HealthIssue, error)
	// WaitForProjectHealth polls CheckProjectHealth until the project is
	// clean or the timeout elapses, returning the remaining issues.
	WaitForProjectHealth(ctx context.Context, projectName string, timeout time.Duration) ([]HealthIssue, error)
	// PruneImages removes dangling images, optionally filtered by age.
	PruneImages(ctx context.Context, until string) (uint64, error)
	// PruneVolumes removes unused anonymous volumes.
	PruneVolumes(ctx context.Context) (uint64, error)
}

// Snapshot maps a compose service name to its image identity key: the
// comma-joined sorted "ref@imageID" pairs of its running replicas.
type Snapshot map[string]string

// Diff returns the sorted service names whose identity key differs between
// the two snapshots. A service present on only one side counts as changed.
func (s Snapshot) Diff(after Snapshot) []string {
	union := make(map[string]struct{}, len(s)+len(after))
	for svc := range s {
		union[svc] = struct{}{}
	}

	for svc := range after {
		union[svc] = struct{}{}
	}

	var changed []string

	for svc := range union {
		if s[svc] != after[svc] {
			changed = append(changed, svc)
		}
	}

	sort.Strings(changed)

	return changed
}

// HealthIssue describes one container that failed the health verdict.
type HealthIssue struct {
	Container string
	Reason    string
}

func (h HealthIssue) String() string {
	return h.Container + ": " + h.Reason
}

// client is the concrete implementation of the Client interface.
//
// It wraps the Docker API client initialized from the environment.
type client struct {
	api dockerClient.APIClient
}

// NewClient initializes a Client for Docker API interactions.
//
// It configures the client from the environment (DOCKER_HOST,
// DOCKER_API_VERSION, DOCKER_TLS_VERIFY) with API version negotiation.
func NewClient() (Client, error) {
	cli, err := dockerClient.NewClientWithOpts(
		dockerClient.FromEnv,
		dockerClient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing Docker client: %w", err)
	}

	logrus.WithField("client_version", cli.ClientVersion()).Debug("Initialized Docker client")

	return &client{api: cli}, nil
}

// listProject lists the project's containers by the compose project label.
func (c *client) listProject(ctx context.Context, projectName string, all bool) ([]dockerContainer.Summary, error) {
	listFilters := filters.NewArgs(
		filters.Arg("label", compose.ComposeProjectLabel+"="+projectName),
	)

	containers, err := c.api.ContainerList(ctx, dockerContainer.ListOptions{
		All:     all,
		Filters: listFilters,
	})
	if err != nil {
		return nil, fmt.Errorf("listing containers for project %q: %w", projectName, err)
	}

	return containers, nil
}

// SnapshotProject captures the image identity of every running container in
// the project, grouped by service. Containers that vanish between list and
// inspect are skipped.
func (c *client) SnapshotProject(
	ctx context.Context,
	projectName string,
	services []string,
) (Snapshot, error) {
	containers, err := c.listProject(ctx, projectName, false)
	if err != nil {
		return nil, err
	}

	declared := make(map[string]struct{}, len(services))
	for _, svc := range services {
		declared[svc] = struct{}{}
	}

	identities := make(map[string][]string)

	for _, summary := range containers {
		service := compose.GetServiceName(summary.Labels)
		if service == "" {
			continue
		}

		if len(declared) > 0 {
			if _, ok := declared[service]; !ok {
				logrus.WithFields(logrus.Fields{
					"project": projectName,
					"service": service,
				}).Debug("Skipping container of undeclared service")

				continue
			}
		}

		details, err := c.api.ContainerInspect(ctx, summary.ID)
		if err != nil {
			if cerrdefs.IsNotFound(err) {
				logrus.WithField("container", summary.ID).
					Debug("Container vanished during snapshot, skipping")

				continue
			}

			return nil, fmt.Errorf("inspecting container %q: %w", summary.ID, err)
		}

		identities[service] = append(
			identities[service],
			imageIdentity(details.Config.Image, details.Image),
		)
	}

	snapshot := make(Snapshot, len(identities))
	for service, refs := range identities {
		sort.Strings(refs)
		snapshot[service] = strings.Join(refs, ",")
	}

	return snapshot, nil
}

// imageIdentity combines the configured image reference (normalized) with
// the resolved image ID, so both retags and in-place digest updates change
// the identity key.
func imageIdentity(configuredRef, imageID string) string {
	display := configuredRef

	if named, err := reference.ParseNormalizedNamed(configuredRef); err == nil {
		display = reference.FamiliarString(named)
	}

	return display + "@" + imageID
}

// CheckProjectHealth inspects every project container, running or not. A
// container with a healthcheck must report healthy; one without must at
// least be running.
func (c *client) CheckProjectHealth(ctx context.Context, projectName string) ([]HealthIssue, error) {
	containers, err := c.listProject(ctx, projectName, true)
	if err != nil {
		return nil, err
	}

	var issues []HealthIssue

	for _, summary := range containers {
		details, err := c.api.ContainerInspect(ctx, summary.ID)
		if err != nil {
			if cerrdefs.IsNotFound(err) {
				continue
			}

			return nil, fmt.Errorf("inspecting container %q: %w", summary.ID, err)
		}

		name := summary.ID
		if len(summary.Names) > 0 {
			name = strings.TrimPrefix(summary.Names[0], "/")
		}

		state := details.State
		if state == nil {
			continue
		}

		switch {
		case state.Health != nil:
			if state.Health.Status != "healthy" {
				issues = append(issues, HealthIssue{
					Container: name,
					Reason:    "health: " + state.Health.Status,
				})
			}
		case !state.Running:
			issues = append(issues, HealthIssue{
				Container: name,
				Reason:    "state: " + state.Status,
			})
		}
	}

	return issues, nil
}

// WaitForProjectHealth polls the project's health until it is clean, the
// timeout elapses, or the context is canceled. On timeout the last issue
// set is returned so the caller can report what never settled.
func (c *client) WaitForProjectHealth(
	ctx context.Context,
	projectName string,
	timeout time.Duration,
) ([]HealthIssue, error) {
	deadline := time.Now().Add(timeout)

	for {
		issues, err := c.CheckProjectHealth(ctx, projectName)
		if err != nil {
			return nil, err
		}

		if len(issues) == 0 {
			return nil, nil
		}

		if time.Now().After(deadline) {
			logrus.WithFields(logrus.Fields{
				"project": projectName,
				"issues":  len(issues),
			}).Debug("Health wait timed out")

			return issues, nil
		}

		select {
		case <-ctx.Done():
			return issues, ctx.Err()
		case <-time.After(healthPollInterval):
		}
	}
}

// PruneImages removes dangling images, optionally restricted by an `until`
// filter, and returns the space reclaimed.
func (c *client) PruneImages(ctx context.Context, until string) (uint64, error) {
	pruneFilters := filters.NewArgs(filters.Arg("dangling", "true"))
	if until != "" {
		pruneFilters.Add("until", until)
	}

	report, err := c.api.ImagesPrune(ctx, pruneFilters)
	if err != nil {
		return 0, fmt.Errorf("pruning images: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"deleted":         len(report.ImagesDeleted),
		"space_reclaimed": report.SpaceReclaimed,
	}).Debug("Pruned images")

	return report.SpaceReclaimed, nil
}

// PruneVolumes removes unused anonymous volumes and returns the space
// reclaimed.
func (c *client) PruneVolumes(ctx context.Context) (uint64, error) {
	report, err := c.api.VolumesPrune(ctx, filters.NewArgs())
	if err != nil {
		return 0, fmt.Errorf("pruning volumes: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"deleted":         len(report.VolumesDeleted),
		"space_reclaimed": report.SpaceReclaimed,
	}).Debug("Pruned volumes")

	return report.SpaceReclaimed, nil
}
