// Package config loads the PullPilot batch configuration from a
// shell-style KEY=value file (updater.conf).
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Errors returned by the loader and by lazy numeric accessors.
var (
	// ErrInvalidComposeBin indicates a COMPOSE_BIN value that failed vetting.
	ErrInvalidComposeBin = errors.New("invalid COMPOSE_BIN")
	// ErrInvalidNumber indicates a numeric setting that could not be parsed
	// when it was first needed.
	ErrInvalidNumber = errors.New("invalid numeric setting")
	// ErrMissingBaseDir indicates an empty BASE_DIR with no explicit project list.
	ErrMissingBaseDir = errors.New("BASE_DIR must not be empty")
)

// safeToken restricts COMPOSE_BIN tokens to a conservative character set so
// the value can never smuggle shell metacharacters into the exec'd command.
var safeToken = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

// Config holds every setting of a PullPilot run. Numeric settings are kept
// as raw strings and parsed on first arithmetic use, matching the loose
// coercion of the original KEY=value format.
type Config struct {
	BaseDir          string
	LogDir           string
	LockFile         string
	LogRetentionDays string

	EmailTo          string
	EmailFrom        string
	SubjectPrefix    string
	SMTPCmd          string
	SMTPAccount      string
	SMTPReadEnvelope bool
	SMTPURL          string

	DockerTimeout string
	QuietPull     bool
	PullPolicy    string
	ParallelPull  string

	ExcludePatterns []string
	ProjectsFile    string
	AttachLogsOn    string

	PruneEnabled     bool
	PruneVolumes     bool
	PruneFilterUntil string

	DryRun     bool
	ComposeBin string
}

// Default returns the built-in configuration used when the config file is
// absent or a key is not set.
func Default() Config {
	return Config{
		BaseDir:          "/compose",
		LogDir:           "/var/log/pullpilot",
		LockFile:         "/var/lock/pullpilot.lock",
		LogRetentionDays: "14",
		EmailTo:          "",
		EmailFrom:        "pullpilot@localhost",
		SubjectPrefix:    "[pullpilot]",
		SMTPCmd:          "msmtp",
		SMTPAccount:      "",
		SMTPReadEnvelope: true,
		SMTPURL:          "",
		DockerTimeout:    "120",
		QuietPull:        true,
		PullPolicy:       "always",
		ParallelPull:     "0",
		ExcludePatterns:  nil,
		ProjectsFile:     "",
		AttachLogsOn:     "changes",
		PruneEnabled:     false,
		PruneVolumes:     false,
		PruneFilterUntil: "",
		DryRun:           false,
		ComposeBin:       "",
	}
}

// Load reads the config file at path on top of the defaults. A missing or
// unreadable file is not fatal: the defaults are returned and a warning is
// logged, so a bare host still gets a best-effort run.
func Load(path string) Config {
	cfg := Default()

	file, err := os.Open(path)
	if err != nil {
		logrus.WithError(err).WithField("file", path).
			Warn("Config file not readable, using defaults")

		return cfg
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}

		cfg.apply(key, value)
	}

	if err := scanner.Err(); err != nil {
		logrus.WithError(err).WithField("file", path).
			Warn("Error reading config file, continuing with parsed values")
	}

	return cfg
}

// parseLine extracts a KEY=value pair from one config line. Blank lines and
// comments yield ok=false. Values may carry surrounding single or double
// quotes (stripped) and trailing # comments outside quotes (dropped).
func parseLine(line string) (string, string, bool) {
	line = strings.TrimRight(line, "\r")
	line = strings.TrimSpace(line)

	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}

	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}

	return key, cleanValue(value), true
}

// cleanValue strips an inline comment (only outside quotes) and then one
// pair of matching surrounding quotes.
func cleanValue(value string) string {
	value = strings.TrimSpace(value)

	var (
		quote    byte
		inQuotes bool
	)

	for i := range len(value) {
		c := value[i]
		switch {
		case inQuotes && c == quote:
			inQuotes = false
		case !inQuotes && (c == '\'' || c == '"'):
			inQuotes = true
			quote = c
		case !inQuotes && c == '#':
			value = strings.TrimSpace(value[:i])

			return unquote(value)
		}
	}

	return unquote(value)
}

func unquote(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if first == last && (first == '\'' || first == '"') {
			return value[1 : len(value)-1]
		}
	}

	return value
}

// apply assigns one parsed key to its Config field. Unknown keys are
// ignored with a debug log so forward-compatible config files keep working.
// Empty values keep the default, mirroring the `${VAR:-default}` behavior
// the file format inherits from shell sourcing.
func (c *Config) apply(key, value string) {
	if value == "" {
		return
	}

	switch key {
	case "BASE_DIR":
		c.BaseDir = value
	case "LOG_DIR":
		c.LogDir = value
	case "LOCK_FILE":
		c.LockFile = value
	case "LOG_RETENTION_DAYS":
		c.LogRetentionDays = value
	case "EMAIL_TO":
		c.EmailTo = value
	case "EMAIL_FROM":
		c.EmailFrom = value
	case "SUBJECT_PREFIX":
		c.SubjectPrefix = value
	case "SMTP_CMD":
		c.SMTPCmd = value
	case "SMTP_ACCOUNT":
		c.SMTPAccount = value
	case "SMTP_READ_ENVELOPE":
		c.setBool(&c.SMTPReadEnvelope, key, value)
	case "SMTP_URL":
		c.SMTPURL = value
	case "DOCKER_TIMEOUT":
		c.DockerTimeout = value
	case "QUIET_PULL":
		c.setBool(&c.QuietPull, key, value)
	case "PULL_POLICY":
		c.PullPolicy = value
	case "PARALLEL_PULL":
		c.ParallelPull = value
	case "EXCLUDE_PATTERNS":
		c.ExcludePatterns = strings.Fields(value)
	case "COMPOSE_PROJECTS_FILE":
		c.ProjectsFile = value
	case "ATTACH_LOGS_ON":
		c.AttachLogsOn = value
	case "PRUNE_ENABLED":
		c.setBool(&c.PruneEnabled, key, value)
	case "PRUNE_VOLUMES":
		c.setBool(&c.PruneVolumes, key, value)
	case "PRUNE_FILTER_UNTIL":
		c.PruneFilterUntil = value
	case "DRY_RUN":
		c.setBool(&c.DryRun, key, value)
	case "COMPOSE_BIN":
		c.ComposeBin = value
	default:
		logrus.WithField("key", key).Debug("Ignoring unknown config key")
	}
}

// setBool applies the boolean contract: only the exact lowercase literals
// "true" and "false" flip the flag; anything else keeps the default.
func (c *Config) setBool(target *bool, key, value string) {
	switch value {
	case "true":
		*target = true
	case "false":
		*target = false
	default:
		logrus.WithFields(logrus.Fields{
			"key":   key,
			"value": value,
		}).Warn("Ignoring non-boolean value, keeping default")
	}
}

// RetentionDays parses LOG_RETENTION_DAYS on first use.
func (c *Config) RetentionDays() (int, error) {
	return c.intSetting("LOG_RETENTION_DAYS", c.LogRetentionDays)
}

// TimeoutSeconds parses DOCKER_TIMEOUT on first use.
func (c *Config) TimeoutSeconds() (int, error) {
	return c.intSetting("DOCKER_TIMEOUT", c.DockerTimeout)
}

// ParallelPullLimit parses PARALLEL_PULL on first use. Zero disables the
// compose parallelism override.
func (c *Config) ParallelPullLimit() (int, error) {
	return c.intSetting("PARALLEL_PULL", c.ParallelPull)
}

func (c *Config) intSetting(key, raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidNumber, key, raw)
	}

	return n, nil
}

// ComposeCommand vets COMPOSE_BIN and returns the argv prefix used to invoke
// the compose CLI. An empty COMPOSE_BIN resolves to "docker compose".
//
// Accepted shapes, from the original updater contract:
//
//	docker compose
//	docker-compose
//	/abs/path/docker-compose
//	/abs/path/docker compose
//
// Absolute paths must exist and be executable. Everything else is rejected.
func (c *Config) ComposeCommand() ([]string, error) {
	raw := strings.TrimSpace(c.ComposeBin)
	if raw == "" {
		return []string{"docker", "compose"}, nil
	}

	tokens := strings.Fields(raw)
	for _, tok := range tokens {
		if !safeToken.MatchString(tok) {
			return nil, fmt.Errorf("%w: unsafe token %q", ErrInvalidComposeBin, tok)
		}
	}

	switch {
	case len(tokens) == 2 && tokens[0] == "docker" && tokens[1] == "compose":
		return tokens, nil
	case len(tokens) == 1 && tokens[0] == "docker-compose":
		return tokens, nil
	case len(tokens) == 1 && strings.HasPrefix(tokens[0], "/") &&
		strings.HasSuffix(tokens[0], "/docker-compose"):
		if err := checkExecutable(tokens[0]); err != nil {
			return nil, err
		}

		return tokens, nil
	case len(tokens) == 2 && strings.HasPrefix(tokens[0], "/") &&
		strings.HasSuffix(tokens[0], "/docker") && tokens[1] == "compose":
		if err := checkExecutable(tokens[0]); err != nil {
			return nil, err
		}

		return tokens, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidComposeBin, raw)
	}
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidComposeBin, path, err)
	}

	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%w: %q is not executable", ErrInvalidComposeBin, path)
	}

	return nil
}

// Validate checks the settings that must be sane before any project work
// starts. It is called once, after Load and flag overrides.
func (c *Config) Validate() error {
	if c.ProjectsFile == "" && c.BaseDir == "" {
		return ErrMissingBaseDir
	}

	if _, err := c.ComposeCommand(); err != nil {
		return err
	}

	return nil
}
