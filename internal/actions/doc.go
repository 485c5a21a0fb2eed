// Package actions provides the core logic of a PullPilot run: the strictly
// sequential per-project update sequence (snapshot, pull, up, diff, health
// verdict) and the post-run maintenance (log retention and pruning).
package actions
