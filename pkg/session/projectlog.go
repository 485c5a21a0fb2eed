package session

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pullpilot/pullpilot/pkg/discovery"
)

// logTimestampFormat names log files sortably down to the second.
const logTimestampFormat = "20060102-150405"

// ProjectLog is the per-project log file every update sequence writes to.
// When the file cannot be created the log degrades to a discarding writer
// so the sequence itself still runs.
type ProjectLog struct {
	file *os.File
	path string
}

// OpenProjectLog creates the log file for one project run under logDir,
// named from the display name, the run timestamp and the path hash.
func OpenProjectLog(logDir string, project discovery.Project, started time.Time) (*ProjectLog, error) {
	name := fmt.Sprintf("%s_%s_%s.log",
		project.DisplayName,
		started.Format(logTimestampFormat),
		project.PathHash,
	)
	path := filepath.Join(logDir, name)

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir %q: %w", logDir, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating project log %q: %w", path, err)
	}

	return &ProjectLog{file: file, path: path}, nil
}

// Path returns the log file path, empty for a discarding log.
func (l *ProjectLog) Path() string {
	if l == nil || l.file == nil {
		return ""
	}

	return l.path
}

// Writer returns the underlying writer for command output.
func (l *ProjectLog) Writer() io.Writer {
	if l == nil || l.file == nil {
		return io.Discard
	}

	return l.file
}

// Section writes a step header, keeping the file readable when attached to
// the summary email.
func (l *ProjectLog) Section(name string) {
	fmt.Fprintf(l.Writer(), "\n=== %s (%s) ===\n", name, time.Now().Format(time.RFC3339))
}

// Printf writes one formatted line to the log.
func (l *ProjectLog) Printf(format string, args ...any) {
	fmt.Fprintf(l.Writer(), format+"\n", args...)
}

// Close flushes and closes the file.
func (l *ProjectLog) Close() {
	if l == nil || l.file == nil {
		return
	}

	if err := l.file.Close(); err != nil {
		logrus.WithError(err).WithField("file", l.path).Debug("Failed to close project log")
	}
}

// CleanupLogs removes *.log files under logDir older than retentionDays,
// by mtime. Best effort: failures are logged and never fail the run.
func CleanupLogs(logDir string, retentionDays int) {
	if retentionDays <= 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	entries, err := os.ReadDir(logDir)
	if err != nil {
		logrus.WithError(err).WithField("dir", logDir).Warn("Log retention sweep skipped")

		return
	}

	removed := 0

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}

		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(logDir, entry.Name())
		if err := os.Remove(path); err != nil {
			logrus.WithError(err).WithField("file", path).Debug("Failed to remove old log")

			continue
		}

		removed++
	}

	if removed > 0 {
		logrus.WithFields(logrus.Fields{
			"dir":     logDir,
			"removed": removed,
			"days":    retentionDays,
		}).Info("Removed logs past retention")
	}
}
