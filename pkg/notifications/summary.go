package notifications

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/pullpilot/pullpilot/pkg/session"
)

// Subject builds the summary subject line from the run's tallies.
func Subject(prefix string, report *session.Report) string {
	subject := fmt.Sprintf("%s: %d changed, %d failed, %d unchanged",
		report.Hostname,
		len(report.Changed()),
		len(report.Failed()),
		len(report.Unchanged()),
	)

	if prefix != "" {
		subject = prefix + " " + subject
	}

	return subject
}

// PlainSummary renders the text/plain body of the summary email.
func PlainSummary(report *session.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "PullPilot run on %s\n", report.Hostname)
	fmt.Fprintf(&b, "Started:  %s\n", report.Started.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Duration: %s\n\n", report.Duration().Round(time.Second))

	fmt.Fprintf(&b, "Projects: %d total, %d changed, %d failed, %d unchanged\n",
		len(report.Results),
		len(report.Changed()),
		len(report.Failed()),
		len(report.Unchanged()),
	)

	writeBucket(&b, "Failed", report.Failed())
	writeBucket(&b, "Changed", report.Changed())
	writeBucket(&b, "Unchanged", report.Unchanged())

	return b.String()
}

func writeBucket(b *strings.Builder, title string, results []*session.ProjectResult) {
	if len(results) == 0 {
		return
	}

	fmt.Fprintf(b, "\n%s:\n", title)

	for _, result := range results {
		fmt.Fprintf(b, "  - %s", result.Project.DisplayName)

		if details := resultDetails(result); details != "" {
			fmt.Fprintf(b, " (%s)", details)
		}

		b.WriteString("\n")

		if result.Err != nil {
			fmt.Fprintf(b, "      error: %s\n", result.Err)
		}

		for _, issue := range result.HealthIssues {
			fmt.Fprintf(b, "      unhealthy: %s\n", issue)
		}
	}
}

// resultDetails summarizes the changed services of one result.
func resultDetails(result *session.ProjectResult) string {
	if len(result.ChangedServices) == 0 {
		return ""
	}

	services := append([]string{}, result.ChangedServices...)
	sort.Strings(services)

	return strings.Join(services, ", ")
}

// HTMLSummary renders the text/html body of the summary email. Every
// run-derived string passes through HTML escaping before interpolation.
func HTMLSummary(report *session.Report) string {
	var b strings.Builder

	b.WriteString("<html><body>\n")
	fmt.Fprintf(&b, "<h2>PullPilot run on %s</h2>\n", html.EscapeString(report.Hostname))
	fmt.Fprintf(&b, "<p>Started %s, took %s.</p>\n",
		html.EscapeString(report.Started.Format("2006-01-02 15:04:05 MST")),
		html.EscapeString(report.Duration().Round(time.Second).String()),
	)
	fmt.Fprintf(&b, "<p>%d projects: <b>%d changed</b>, <b>%d failed</b>, %d unchanged.</p>\n",
		len(report.Results),
		len(report.Changed()),
		len(report.Failed()),
		len(report.Unchanged()),
	)

	b.WriteString("<table border=\"1\" cellpadding=\"4\" cellspacing=\"0\">\n")
	b.WriteString("<tr><th>Project</th><th>Status</th><th>Details</th></tr>\n")

	for _, result := range report.Results {
		details := resultDetails(result)

		if result.Err != nil {
			if details != "" {
				details += "; "
			}

			details += result.Err.Error()
		}

		if len(result.HealthIssues) > 0 {
			if details != "" {
				details += "; "
			}

			details += "unhealthy: " + strings.Join(result.HealthIssues, ", ")
		}

		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			html.EscapeString(result.Project.DisplayName),
			html.EscapeString(result.Classification()),
			html.EscapeString(details),
		)
	}

	b.WriteString("</table>\n</body></html>\n")

	return b.String()
}
