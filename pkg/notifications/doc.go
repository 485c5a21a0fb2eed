// Package notifications turns a run report into the summary email: plain
// and HTML renderings, a multipart MIME message with base64 log
// attachments, and interchangeable delivery transports (sendmail-compatible
// command, direct SMTP, shoutrrr URL).
package notifications
