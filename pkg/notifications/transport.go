package notifications

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/smtp"
	"net/url"
	"os/exec"
	"strings"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/sirupsen/logrus"

	shoutrrrTypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/pullpilot/pullpilot/pkg/config"
)

// ErrSendFailed indicates that a transport could not deliver the message.
var ErrSendFailed = errors.New("failed to send notification")

// Message is one assembled summary, carrying both the full MIME rendering
// and the pieces body-only transports need.
type Message struct {
	From    string
	To      []string
	Subject string
	// Plain is the text/plain body on its own.
	Plain string
	// Raw is the complete MIME message including headers and attachments.
	Raw []byte
}

// Transport delivers one assembled message. The implementations are
// interchangeable; selection happens once per run in NewTransport.
type Transport interface {
	Send(ctx context.Context, msg *Message) error
	// Name identifies the transport in logs.
	Name() string
	// CarriesAttachments reports whether the transport delivers the full
	// MIME message or only the plain body.
	CarriesAttachments() bool
}

// NewTransport picks the transport for the run's configuration:
// an smtp:// SMTP_URL selects direct SMTP, any other SMTP_URL selects
// shoutrrr (body only), and otherwise the sendmail-compatible SMTP_CMD is
// executed.
func NewTransport(cfg config.Config) Transport {
	if cfg.SMTPURL != "" {
		if strings.HasPrefix(cfg.SMTPURL, "smtp://") {
			return &smtpTransport{rawURL: cfg.SMTPURL}
		}

		return &shoutrrrTransport{rawURL: cfg.SMTPURL}
	}

	return &sendmailTransport{
		cmd:          cfg.SMTPCmd,
		account:      cfg.SMTPAccount,
		readEnvelope: cfg.SMTPReadEnvelope,
	}
}

// sendmailTransport pipes the message into a sendmail-compatible program
// (msmtp, sendmail, mailx).
type sendmailTransport struct {
	cmd          string
	account      string
	readEnvelope bool
}

func (t *sendmailTransport) Name() string { return "sendmail-cmd" }

func (t *sendmailTransport) CarriesAttachments() bool { return true }

func (t *sendmailTransport) Send(ctx context.Context, msg *Message) error {
	var args []string

	if t.account != "" {
		args = append(args, "-a", t.account)
	}

	if t.readEnvelope {
		// Recipients are read back from the message headers.
		args = append(args, "-t")
	} else {
		args = append(args, msg.To...)
	}

	cmd := exec.CommandContext(ctx, t.cmd, args...)
	cmd.Stdin = bytes.NewReader(msg.Raw)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w: %s",
			ErrSendFailed, t.cmd, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}

	logrus.WithFields(logrus.Fields{
		"transport": t.Name(),
		"command":   t.cmd,
	}).Debug("Delivered notification")

	return nil
}

// smtpTransport delivers directly over SMTP, with plain auth when the URL
// carries credentials.
type smtpTransport struct {
	rawURL string
}

func (t *smtpTransport) Name() string { return "smtp" }

func (t *smtpTransport) CarriesAttachments() bool { return true }

func (t *smtpTransport) Send(_ context.Context, msg *Message) error {
	parsed, err := url.Parse(t.rawURL)
	if err != nil {
		return fmt.Errorf("%w: parsing SMTP URL: %w", ErrSendFailed, err)
	}

	host := parsed.Hostname()
	port := parsed.Port()

	if port == "" {
		port = "25"
	}

	var auth smtp.Auth

	if user := parsed.User.Username(); user != "" {
		password, _ := parsed.User.Password()
		auth = smtp.PlainAuth("", user, password, host)
	}

	if err := smtp.SendMail(host+":"+port, auth, msg.From, msg.To, msg.Raw); err != nil {
		return fmt.Errorf("%w: smtp %s: %w", ErrSendFailed, host, err)
	}

	logrus.WithFields(logrus.Fields{
		"transport": t.Name(),
		"host":      host,
	}).Debug("Delivered notification")

	return nil
}

// shoutrrrTransport dispatches the plain body through a shoutrrr service
// URL. Attachments cannot be carried over chat-style services.
type shoutrrrTransport struct {
	rawURL string
}

func (t *shoutrrrTransport) Name() string { return "shoutrrr" }

func (t *shoutrrrTransport) CarriesAttachments() bool { return false }

func (t *shoutrrrTransport) Send(_ context.Context, msg *Message) error {
	logger := log.New(logrus.StandardLogger().WriterLevel(logrus.TraceLevel), "Shoutrrr: ", 0)

	router, err := shoutrrr.NewSender(logger, t.rawURL)
	if err != nil {
		return fmt.Errorf("%w: initializing shoutrrr sender: %w", ErrSendFailed, err)
	}

	params := &shoutrrrTypes.Params{}
	if msg.Subject != "" {
		params.SetTitle(msg.Subject)
	}

	for _, err := range router.Send(msg.Plain, params) {
		if err != nil {
			return fmt.Errorf("%w: shoutrrr: %w", ErrSendFailed, err)
		}
	}

	logrus.WithField("transport", t.Name()).Debug("Delivered notification")

	return nil
}
