// Package session tracks the state of one PullPilot run: per-project
// results with their changed/unchanged/failed classification, the run-wide
// report the notifier renders, and the per-project log files including
// their retention sweep.
package session
