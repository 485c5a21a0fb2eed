package notifications

import (
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

var _ = ginkgo.Describe("BuildMessage", func() {
	build := func(attachments []Attachment) *mail.Message {
		raw, err := BuildMessage(
			"pullpilot@localhost",
			[]string{"ops@example.com", "admin@example.com"},
			"[pullpilot] nas01: 1 changed, 0 failed, 0 unchanged",
			"plain body",
			"<html><body>html body</body></html>",
			attachments,
		)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		return msg
	}

	ginkgo.It("sets the envelope headers", func() {
		msg := build(nil)

		gomega.Expect(msg.Header.Get("From")).To(gomega.Equal("pullpilot@localhost"))
		gomega.Expect(msg.Header.Get("To")).To(gomega.Equal("ops@example.com, admin@example.com"))
		gomega.Expect(msg.Header.Get("MIME-Version")).To(gomega.Equal("1.0"))
		gomega.Expect(msg.Header.Get("Subject")).To(gomega.ContainSubstring("1 changed"))
		gomega.Expect(msg.Header.Get("Date")).NotTo(gomega.BeEmpty())
	})

	ginkgo.It("nests an alternative part with plain before html", func() {
		msg := build(nil)

		mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(mediaType).To(gomega.Equal("multipart/mixed"))

		reader := multipart.NewReader(msg.Body, params["boundary"])

		first, err := reader.NextPart()
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		altType, altParams, err := mime.ParseMediaType(first.Header.Get("Content-Type"))
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(altType).To(gomega.Equal("multipart/alternative"))

		alt := multipart.NewReader(first, altParams["boundary"])

		plain, err := alt.NextPart()
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(plain.Header.Get("Content-Type")).To(gomega.HavePrefix("text/plain"))
		plainBody, _ := io.ReadAll(plain)
		gomega.Expect(string(plainBody)).To(gomega.Equal("plain body"))

		htmlPart, err := alt.NextPart()
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(htmlPart.Header.Get("Content-Type")).To(gomega.HavePrefix("text/html"))
	})

	ginkgo.It("encodes attachments as base64 with escaped filenames", func() {
		content := strings.Repeat("log line\n", 40)
		msg := build([]Attachment{{
			Filename: `web "prod"\1.log`,
			Content:  []byte(content),
		}})

		_, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		reader := multipart.NewReader(msg.Body, params["boundary"])

		_, err = reader.NextPart()
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		attachment, err := reader.NextPart()
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(attachment.Header.Get("Content-Type")).To(gomega.Equal("application/octet-stream"))
		gomega.Expect(attachment.Header.Get("Content-Transfer-Encoding")).To(gomega.Equal("base64"))

		disposition := attachment.Header.Get("Content-Disposition")
		gomega.Expect(disposition).To(gomega.HavePrefix("attachment;"))
		gomega.Expect(disposition).To(gomega.ContainSubstring(`\"prod\"`))

		raw, err := io.ReadAll(attachment)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		lines := strings.Split(strings.TrimSpace(string(raw)), "\r\n")
		for _, line := range lines {
			gomega.Expect(len(line)).To(gomega.BeNumerically("<=", 76))
		}

		decoded, err := base64.StdEncoding.DecodeString(strings.Join(lines, ""))
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(string(decoded)).To(gomega.Equal(content))
	})
})
