// Package compose provides the Docker Compose-specific pieces of PullPilot:
// the well-known compose container labels, a minimal compose file model for
// reading declared services, and the exec-based Runner that drives the
// compose CLI with a probed capability set.
//
// Key components:
//   - GetServiceName: Extract the compose service name from container
//     labels.
//   - ParseFile / File.ServiceNames: Read the declared services of a
//     project's compose file.
//   - Runner: Executes `pull` and `up -d --remove-orphans` per project,
//     adapting flags to the Capabilities probed from `up --help`.
//
// Usage example:
//
//	runner, err := compose.NewRunner(ctx, cfg)
//	err = runner.Up(ctx, project.Dir, project.ComposeFile, logFile)
package compose
