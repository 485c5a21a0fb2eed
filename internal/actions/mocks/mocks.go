// Package mocks provides test doubles for the update sequence: a canned
// Docker client and a recording compose runner.
package mocks

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pullpilot/pullpilot/pkg/container"
)

// MockClient implements container.Client with canned responses.
//
// Snapshots are served from SnapshotQueue, one entry per call, so a test
// scripts the before and after states of each project in order. An empty
// queue serves empty snapshots.
type MockClient struct {
	SnapshotQueue []container.Snapshot
	SnapshotErr   error
	HealthIssues  []container.HealthIssue
	HealthErr     error
	PruneErr      error

	SnapshotCalls     []string
	HealthCalls       []string
	PruneImagesCalls  []string
	PruneVolumesCalls int
}

// NewMockClient returns an empty mock serving healthy, unchanged projects.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (c *MockClient) SnapshotProject(
	_ context.Context,
	projectName string,
	_ []string,
) (container.Snapshot, error) {
	c.SnapshotCalls = append(c.SnapshotCalls, projectName)

	if c.SnapshotErr != nil {
		return nil, c.SnapshotErr
	}

	if len(c.SnapshotQueue) == 0 {
		return container.Snapshot{}, nil
	}

	next := c.SnapshotQueue[0]
	c.SnapshotQueue = c.SnapshotQueue[1:]

	return next, nil
}

func (c *MockClient) CheckProjectHealth(
	_ context.Context,
	projectName string,
) ([]container.HealthIssue, error) {
	c.HealthCalls = append(c.HealthCalls, projectName)

	return c.HealthIssues, c.HealthErr
}

func (c *MockClient) WaitForProjectHealth(
	ctx context.Context,
	projectName string,
	_ time.Duration,
) ([]container.HealthIssue, error) {
	return c.CheckProjectHealth(ctx, projectName)
}

func (c *MockClient) PruneImages(_ context.Context, until string) (uint64, error) {
	c.PruneImagesCalls = append(c.PruneImagesCalls, until)

	return 1024, c.PruneErr
}

func (c *MockClient) PruneVolumes(_ context.Context) (uint64, error) {
	c.PruneVolumesCalls++

	return 2048, c.PruneErr
}

// MockRunner records compose invocations and fails on demand.
type MockRunner struct {
	ExplicitPull bool
	PullErr      error
	UpErr        error

	PullCalls []string
	UpCalls   []string
}

func (r *MockRunner) NeedsExplicitPull() bool {
	return r.ExplicitPull
}

func (r *MockRunner) Pull(_ context.Context, dir, _ string, log io.Writer) error {
	r.PullCalls = append(r.PullCalls, dir)
	fmt.Fprintln(log, "mock pull")

	return r.PullErr
}

func (r *MockRunner) Up(_ context.Context, dir, _ string, log io.Writer) error {
	r.UpCalls = append(r.UpCalls, dir)
	fmt.Fprintln(log, "mock up")

	return r.UpErr
}
