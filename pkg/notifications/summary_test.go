package notifications

import (
	"errors"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/pullpilot/pullpilot/pkg/discovery"
	"github.com/pullpilot/pullpilot/pkg/session"
)

func sampleReport() *session.Report {
	report := session.NewReport("nas01")
	report.Started = time.Date(2026, 8, 23, 4, 0, 0, 0, time.UTC)
	report.Finished = report.Started.Add(90 * time.Second)

	report.Add(&session.ProjectResult{
		Project:         discovery.Project{DisplayName: "web"},
		Changed:         true,
		ChangedServices: []string{"nginx", "redis"},
		LogFile:         "/var/log/pullpilot/web.log",
	})
	report.Add(&session.ProjectResult{
		Project: discovery.Project{DisplayName: "monitoring"},
		LogFile: "/var/log/pullpilot/monitoring.log",
	})
	report.Add(&session.ProjectResult{
		Project:      discovery.Project{DisplayName: "db <prod> & \"backup\""},
		Failed:       true,
		Err:          errors.New("compose up exited 1"),
		HealthIssues: []string{"db-1: health: unhealthy"},
		LogFile:      "/var/log/pullpilot/db.log",
	})

	return report
}

var _ = ginkgo.Describe("Summary", func() {
	ginkgo.Describe("Subject", func() {
		ginkgo.It("carries the prefix, host and tallies", func() {
			subject := Subject("[pullpilot]", sampleReport())
			gomega.Expect(subject).To(gomega.Equal("[pullpilot] nas01: 1 changed, 1 failed, 1 unchanged"))
		})

		ginkgo.It("omits an empty prefix", func() {
			subject := Subject("", sampleReport())
			gomega.Expect(subject).To(gomega.HavePrefix("nas01:"))
		})
	})

	ginkgo.Describe("PlainSummary", func() {
		ginkgo.It("lists every bucket with details", func() {
			body := PlainSummary(sampleReport())

			gomega.Expect(body).To(gomega.ContainSubstring("3 total, 1 changed, 1 failed, 1 unchanged"))
			gomega.Expect(body).To(gomega.ContainSubstring("- web (nginx, redis)"))
			gomega.Expect(body).To(gomega.ContainSubstring("- monitoring"))
			gomega.Expect(body).To(gomega.ContainSubstring("error: compose up exited 1"))
			gomega.Expect(body).To(gomega.ContainSubstring("unhealthy: db-1: health: unhealthy"))
		})

		ginkgo.It("does not escape project names", func() {
			body := PlainSummary(sampleReport())
			gomega.Expect(body).To(gomega.ContainSubstring(`db <prod> & "backup"`))
		})
	})

	ginkgo.Describe("HTMLSummary", func() {
		ginkgo.It("escapes run-derived strings", func() {
			body := HTMLSummary(sampleReport())

			gomega.Expect(body).To(gomega.ContainSubstring("db &lt;prod&gt; &amp; &#34;backup&#34;"))
			gomega.Expect(body).NotTo(gomega.ContainSubstring("db <prod>"))
		})

		ginkgo.It("renders one row per project", func() {
			body := HTMLSummary(sampleReport())

			gomega.Expect(body).To(gomega.ContainSubstring("<td>web</td>"))
			gomega.Expect(body).To(gomega.ContainSubstring("<td>changed</td>"))
			gomega.Expect(body).To(gomega.ContainSubstring("<td>failed</td>"))
			gomega.Expect(body).To(gomega.ContainSubstring("<td>unchanged</td>"))
		})
	})

	ginkgo.Describe("AttachmentPaths", func() {
		ginkgo.It("selects nothing for never", func() {
			gomega.Expect(AttachmentPaths(sampleReport(), AttachNever)).To(gomega.BeEmpty())
		})

		ginkgo.It("selects failed logs for failures", func() {
			paths := AttachmentPaths(sampleReport(), AttachFailures)
			gomega.Expect(paths).To(gomega.Equal([]string{"/var/log/pullpilot/db.log"}))
		})

		ginkgo.It("selects changed and failed logs for changes", func() {
			paths := AttachmentPaths(sampleReport(), AttachChanges)
			gomega.Expect(paths).To(gomega.Equal([]string{
				"/var/log/pullpilot/web.log",
				"/var/log/pullpilot/db.log",
			}))
		})

		ginkgo.It("selects everything for always", func() {
			gomega.Expect(AttachmentPaths(sampleReport(), AttachAlways)).To(gomega.HaveLen(3))
		})

		ginkgo.It("deduplicates shared log files", func() {
			report := session.NewReport("nas01")
			report.Add(&session.ProjectResult{Changed: true, LogFile: "/tmp/same.log"})
			report.Add(&session.ProjectResult{Failed: true, LogFile: "/tmp/same.log"})

			gomega.Expect(AttachmentPaths(report, AttachChanges)).To(gomega.HaveLen(1))
		})

		ginkgo.It("skips results without a log file", func() {
			report := session.NewReport("nas01")
			report.Add(&session.ProjectResult{Failed: true})

			gomega.Expect(AttachmentPaths(report, AttachAlways)).To(gomega.BeEmpty())
		})
	})
})
