package actions

import "errors"

// Errors for the per-project update sequence.
var (
	// errComposeParseFailed indicates the project's compose file could not be read.
	errComposeParseFailed = errors.New("failed to parse compose file")
	// errSnapshotFailed indicates the image identity snapshot could not be taken.
	errSnapshotFailed = errors.New("failed to snapshot project containers")
	// errPullFailed indicates `compose pull` exited non-zero.
	errPullFailed = errors.New("compose pull failed")
	// errUpFailed indicates `compose up` exited non-zero.
	errUpFailed = errors.New("compose up failed")
	// errHealthCheckFailed indicates the health verdict itself could not be computed.
	errHealthCheckFailed = errors.New("failed to check project health")
	// errUnhealthy indicates containers never settled into a healthy state.
	errUnhealthy = errors.New("containers unhealthy after update")
)
