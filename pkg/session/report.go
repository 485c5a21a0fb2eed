package session

import (
	"time"

	"github.com/pullpilot/pullpilot/pkg/discovery"
)

// ProjectResult is the outcome of one project's update sequence.
type ProjectResult struct {
	Project discovery.Project
	// Changed is set when at least one service's image identity differs
	// between the before and after snapshots.
	Changed bool
	// Failed is set when any step of the sequence errored or the health
	// verdict came back dirty. Failed takes precedence over Changed when
	// classifying.
	Failed bool
	// Err is the first error of the sequence, nil for healthy runs.
	Err error
	// ChangedServices lists the services whose identity changed, sorted.
	ChangedServices []string
	// HealthIssues lists the containers that never settled, as
	// "name: reason" strings.
	HealthIssues []string
	// LogFile is the absolute path of this project's log file, empty when
	// the file could not be created.
	LogFile string

	Started  time.Time
	Finished time.Time
}

// Classification buckets for the summary.
const (
	StateChanged   = "changed"
	StateUnchanged = "unchanged"
	StateFailed    = "failed"
)

// Classification returns the summary bucket for the result. A project that
// both changed and failed counts as failed.
func (r *ProjectResult) Classification() string {
	switch {
	case r.Failed:
		return StateFailed
	case r.Changed:
		return StateChanged
	default:
		return StateUnchanged
	}
}

// Duration returns how long the project's sequence took.
func (r *ProjectResult) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Report collects every project result of one run.
type Report struct {
	Hostname string
	Started  time.Time
	Finished time.Time
	Results  []*ProjectResult
}

// NewReport starts an empty report for the current run.
func NewReport(hostname string) *Report {
	return &Report{
		Hostname: hostname,
		Started:  time.Now(),
	}
}

// Add appends one project result.
func (r *Report) Add(result *ProjectResult) {
	r.Results = append(r.Results, result)
}

// Changed returns the results classified as changed.
func (r *Report) Changed() []*ProjectResult {
	return r.filter(StateChanged)
}

// Unchanged returns the results classified as unchanged.
func (r *Report) Unchanged() []*ProjectResult {
	return r.filter(StateUnchanged)
}

// Failed returns the results classified as failed.
func (r *Report) Failed() []*ProjectResult {
	return r.filter(StateFailed)
}

func (r *Report) filter(state string) []*ProjectResult {
	var out []*ProjectResult

	for _, result := range r.Results {
		if result.Classification() == state {
			out = append(out, result)
		}
	}

	return out
}

// Duration returns the elapsed wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}
