package notifications

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"
)

// base64LineLength is the RFC 2045 maximum encoded line length.
const base64LineLength = 76

// Attachment is one file carried by the summary email.
type Attachment struct {
	Filename string
	Content  []byte
}

// BuildMessage assembles the full RFC 5322 message: multipart/mixed
// wrapping a multipart/alternative (plain first, then HTML) plus one
// base64 part per attachment.
func BuildMessage(
	from string,
	to []string,
	subject, plainBody, htmlBody string,
	attachments []Attachment,
) ([]byte, error) {
	var buf bytes.Buffer

	mixed := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n", mixed.Boundary())
	fmt.Fprintf(&buf, "\r\n")

	if err := writeAlternative(mixed, plainBody, htmlBody); err != nil {
		return nil, err
	}

	for _, attachment := range attachments {
		if err := writeAttachment(mixed, attachment); err != nil {
			return nil, err
		}
	}

	if err := mixed.Close(); err != nil {
		return nil, fmt.Errorf("closing mixed part: %w", err)
	}

	return buf.Bytes(), nil
}

// writeAlternative nests the plain and HTML renderings, plain first so
// simple clients pick it up.
func writeAlternative(mixed *multipart.Writer, plainBody, htmlBody string) error {
	var nested bytes.Buffer

	alternative := multipart.NewWriter(&nested)

	altPart, err := mixed.CreatePart(textproto.MIMEHeader{
		"Content-Type": {fmt.Sprintf("multipart/alternative; boundary=%q", alternative.Boundary())},
	})
	if err != nil {
		return fmt.Errorf("creating alternative part: %w", err)
	}

	for _, body := range []struct {
		contentType string
		content     string
	}{
		{contentType: "text/plain; charset=utf-8", content: plainBody},
		{contentType: "text/html; charset=utf-8", content: htmlBody},
	} {
		part, err := alternative.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {body.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return fmt.Errorf("creating body part: %w", err)
		}

		if _, err := part.Write([]byte(body.content)); err != nil {
			return fmt.Errorf("writing body part: %w", err)
		}
	}

	if err := alternative.Close(); err != nil {
		return fmt.Errorf("closing alternative part: %w", err)
	}

	if _, err := altPart.Write(nested.Bytes()); err != nil {
		return fmt.Errorf("writing alternative part: %w", err)
	}

	return nil
}

// writeAttachment adds one base64-encoded file part.
func writeAttachment(mixed *multipart.Writer, attachment Attachment) error {
	filename := escapeFilename(attachment.Filename)

	part, err := mixed.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"application/octet-stream"},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {fmt.Sprintf(`attachment; filename="%s"`, filename)},
	})
	if err != nil {
		return fmt.Errorf("creating attachment part for %q: %w", attachment.Filename, err)
	}

	if _, err := part.Write(wrapBase64(attachment.Content)); err != nil {
		return fmt.Errorf("encoding attachment %q: %w", attachment.Filename, err)
	}

	return nil
}

// escapeFilename makes a name safe inside a quoted header parameter.
func escapeFilename(name string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(name)
}

// wrapBase64 encodes content and folds it to RFC 2045 line lengths.
func wrapBase64(content []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(content)

	var out bytes.Buffer

	for len(encoded) > base64LineLength {
		out.WriteString(encoded[:base64LineLength])
		out.WriteString("\r\n")

		encoded = encoded[base64LineLength:]
	}

	out.WriteString(encoded)
	out.WriteString("\r\n")

	return out.Bytes()
}
