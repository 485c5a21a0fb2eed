package notifications

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pullpilot/pullpilot/pkg/config"
	"github.com/pullpilot/pullpilot/pkg/session"
)

// Attachment policies for ATTACH_LOGS_ON.
const (
	AttachNever    = "never"
	AttachFailures = "failures"
	AttachChanges  = "changes"
	AttachAlways   = "always"
)

// Notifier renders a run report into the summary email and hands it to the
// selected transport.
type Notifier struct {
	cfg       config.Config
	transport Transport
}

// NewNotifier builds a notifier for the run configuration.
func NewNotifier(cfg config.Config) *Notifier {
	return &Notifier{
		cfg:       cfg,
		transport: NewTransport(cfg),
	}
}

// SendReport assembles and delivers the summary. An empty EMAIL_TO skips
// delivery without error; a failed delivery is returned to the caller but
// must never change the run's exit code.
func (n *Notifier) SendReport(ctx context.Context, report *session.Report) error {
	if n.cfg.EmailTo == "" {
		logrus.Info("EMAIL_TO not set, skipping summary email")

		return nil
	}

	recipients := splitRecipients(n.cfg.EmailTo)

	msg := &Message{
		From:    n.cfg.EmailFrom,
		To:      recipients,
		Subject: Subject(n.cfg.SubjectPrefix, report),
		Plain:   PlainSummary(report),
	}

	var attachments []Attachment

	if n.transport.CarriesAttachments() {
		attachments = loadAttachments(AttachmentPaths(report, n.cfg.AttachLogsOn))
	} else if n.cfg.AttachLogsOn != AttachNever {
		logrus.WithField("transport", n.transport.Name()).
			Info("Transport cannot carry attachments, sending body only")
	}

	raw, err := BuildMessage(msg.From, msg.To, msg.Subject, msg.Plain, HTMLSummary(report), attachments)
	if err != nil {
		return fmt.Errorf("assembling summary email: %w", err)
	}

	msg.Raw = raw

	logrus.WithFields(logrus.Fields{
		"transport":   n.transport.Name(),
		"recipients":  len(recipients),
		"attachments": len(attachments),
	}).Debug("Sending summary")

	return n.transport.Send(ctx, msg)
}

// splitRecipients accepts comma or whitespace separated addresses.
func splitRecipients(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})

	recipients := make([]string, 0, len(fields))

	for _, field := range fields {
		if field = strings.TrimSpace(field); field != "" {
			recipients = append(recipients, field)
		}
	}

	return recipients
}

// AttachmentPaths selects the per-project log files the policy asks for,
// deduplicated and in report order.
func AttachmentPaths(report *session.Report, policy string) []string {
	var paths []string

	seen := make(map[string]struct{})

	for _, result := range report.Results {
		if result.LogFile == "" {
			continue
		}

		include := false

		switch policy {
		case AttachAlways:
			include = true
		case AttachChanges:
			include = result.Changed || result.Failed
		case AttachFailures:
			include = result.Failed
		case AttachNever:
		default:
			logrus.WithField("policy", policy).Warn("Unknown ATTACH_LOGS_ON policy, attaching nothing")
		}

		if !include {
			continue
		}

		if _, dup := seen[result.LogFile]; dup {
			continue
		}

		seen[result.LogFile] = struct{}{}

		paths = append(paths, result.LogFile)
	}

	return paths
}

// loadAttachments reads the selected logs, skipping unreadable files so a
// lost log never blocks the summary.
func loadAttachments(paths []string) []Attachment {
	attachments := make([]Attachment, 0, len(paths))

	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			logrus.WithError(err).WithField("file", path).Warn("Skipping unreadable log attachment")

			continue
		}

		attachments = append(attachments, Attachment{
			Filename: filepath.Base(path),
			Content:  content,
		})
	}

	return attachments
}
