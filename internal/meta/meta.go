// Package meta holds build-time metadata for PullPilot.
package meta

// Version is the PullPilot version, overridden at build time via
// -ldflags "-X github.com/pullpilot/pullpilot/internal/meta.Version=...".
var Version = "dev"
