// Package flags manages command-line flags and environment variables for PullPilot configuration.
package flags

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DockerAPIMinVersion specifies the minimum Docker API version required by PullPilot.
// It ensures compatibility with the Docker client.
const DockerAPIMinVersion string = "1.44"

// defaultConfFile is where the batch configuration lives unless overridden.
const defaultConfFile = "/etc/pullpilot/updater.conf"

// errInvalidLogFormat indicates an invalid log format was specified.
// It is used in SetupLogging to report configuration errors.
var errInvalidLogFormat = errors.New("invalid log format specified")

// errInvalidLogLevel indicates an invalid log level was specified.
// It is used in SetupLogging to report configuration errors.
var errInvalidLogLevel = errors.New("invalid log level specified")

// errSetEnvFailed indicates a failure to set an environment variable.
// It is used in setEnvOptStr to wrap os.Setenv errors.
var errSetEnvFailed = errors.New("failed to set environment variable")

// errGetFlagFailed indicates a failure to read a flag's value.
var errGetFlagFailed = errors.New("failed to get flag value")

// RegisterDockerFlags adds flags used directly by the Docker API client to the root command.
// These flags configure the Docker connection settings.
func RegisterDockerFlags(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()
	flags.StringP("host", "H", envString("DOCKER_HOST"), "daemon socket to connect to")
	flags.BoolP("tlsverify", "v", envBool("DOCKER_TLS_VERIFY"), "use TLS and verify the remote")
	flags.StringP(
		"api-version",
		"a",
		envString("DOCKER_API_VERSION"),
		"api version to use by docker client",
	)
}

// RegisterSystemFlags adds flags that modify PullPilot's program flow to the root command.
// These flags control the run mode, logging, and where the batch configuration is read from.
func RegisterSystemFlags(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()

	flags.StringP(
		"config",
		"c",
		envString("PULLPILOT_CONF_FILE"),
		"Path of the KEY=value batch configuration file")

	flags.StringP(
		"schedule",
		"s",
		envString("PULLPILOT_SCHEDULE"),
		"Cron expression for repeated runs inside one long-lived process; empty runs once and exits")

	flags.BoolP(
		"dry-run",
		"",
		envBool("PULLPILOT_DRY_RUN"),
		"Log the compose commands that would run without executing them (overrides DRY_RUN)")

	flags.BoolP(
		"no-startup-message",
		"",
		envBool("PULLPILOT_NO_STARTUP_MESSAGE"),
		"Prevents PullPilot from logging the startup banner")

	flags.StringP(
		"log-format",
		"l",
		viper.GetString("PULLPILOT_LOG_FORMAT"),
		"Sets what logging format to use for console output. Possible values: Auto, LogFmt, Pretty, JSON",
	)

	flags.BoolP(
		"debug",
		"d",
		envBool("PULLPILOT_DEBUG"),
		"Enable debug mode with verbose logging")

	flags.BoolP(
		"trace",
		"",
		envBool("PULLPILOT_TRACE"),
		"Enable trace mode with very verbose logging - caution, exposes credentials")

	flags.String(
		"log-level",
		envString("PULLPILOT_LOG_LEVEL"),
		"The maximum log level that will be written to STDERR. Possible values: panic, fatal, error, warn, info, debug or trace",
	)

	// https://no-color.org/
	flags.BoolP(
		"no-color",
		"",
		viper.IsSet("NO_COLOR"),
		"Disable ANSI color escape codes in log output")
}

// envString retrieves a string value from an environment variable via Viper.
// It binds the key to the environment and returns its value.
func envString(key string) string {
	viper.MustBindEnv(key)

	return viper.GetString(key)
}

// envBool retrieves a boolean value from an environment variable via Viper.
// It binds the key to the environment and returns its value.
func envBool(key string) bool {
	viper.MustBindEnv(key)

	return viper.GetBool(key)
}

// SetDefaults configures default values for environment variables.
// It ensures consistent fallback behavior when flags or environment variables are unset.
func SetDefaults() {
	viper.AutomaticEnv()
	viper.SetDefault("DOCKER_HOST", "unix:///var/run/docker.sock")
	viper.SetDefault("DOCKER_API_VERSION", DockerAPIMinVersion)
	viper.SetDefault("PULLPILOT_CONF_FILE", defaultConfFile)
	viper.SetDefault("PULLPILOT_SCHEDULE", "")
	viper.SetDefault("PULLPILOT_LOG_LEVEL", "info")
	viper.SetDefault("PULLPILOT_LOG_FORMAT", "auto")
}

// EnvConfig sets environment variables based on Docker-related flags.
// It configures the Docker client's environment, returning an error if flag retrieval fails.
func EnvConfig(cmd *cobra.Command) error {
	var err error

	var host string

	var tls bool

	var version string

	flags := cmd.PersistentFlags()

	if host, err = flags.GetString("host"); err != nil {
		return fmt.Errorf("%w: %w", errGetFlagFailed, err)
	}

	if tls, err = flags.GetBool("tlsverify"); err != nil {
		return fmt.Errorf("%w: %w", errGetFlagFailed, err)
	}

	if version, err = flags.GetString("api-version"); err != nil {
		return fmt.Errorf("%w: %w", errGetFlagFailed, err)
	}

	if err = setEnvOptStr("DOCKER_HOST", host); err != nil {
		return err
	}

	if err = setEnvOptBool("DOCKER_TLS_VERIFY", tls); err != nil {
		return err
	}

	if err = setEnvOptStr("DOCKER_API_VERSION", version); err != nil {
		return err
	}

	return nil
}

// setEnvOptStr sets an environment variable to a specified string value if needed.
// It skips setting if the value is empty or matches the current environment, returning an error if the set fails.
func setEnvOptStr(env string, opt string) error {
	if opt == "" || opt == os.Getenv(env) {
		return nil
	}

	if err := os.Setenv(env, opt); err != nil {
		return fmt.Errorf("%w: %s: %w", errSetEnvFailed, env, err)
	}

	return nil
}

// setEnvOptBool sets an environment variable to "1" if the boolean is true.
// It returns an error if the set operation fails, otherwise nil.
func setEnvOptBool(env string, opt bool) error {
	if opt {
		return setEnvOptStr(env, "1")
	}

	return nil
}

// ProcessFlagAliases synchronizes flag values based on helper flags.
// The debug and trace switches shadow log-level.
func ProcessFlagAliases(flags *pflag.FlagSet) {
	if flagIsEnabled(flags, "debug") {
		if err := flags.Set("log-level", "debug"); err != nil {
			logrus.Errorf("Failed to set log-level flag: %v", err)
		}
	}

	if flagIsEnabled(flags, "trace") {
		if err := flags.Set("log-level", "trace"); err != nil {
			logrus.Errorf("Failed to set log-level flag: %v", err)
		}
	}
}

// SetupLogging configures the global logger based on log-related flags.
// It sets the log format and level, returning an error for invalid configurations.
func SetupLogging(flags *pflag.FlagSet) error {
	logFormat, err := flags.GetString("log-format")
	if err != nil {
		return fmt.Errorf("%w: %w", errGetFlagFailed, err)
	}

	noColor, err := flags.GetBool("no-color")
	if err != nil {
		return fmt.Errorf("%w: %w", errGetFlagFailed, err)
	}

	if err := configureLogFormat(logFormat, noColor); err != nil {
		return err
	}

	rawLogLevel, err := flags.GetString("log-level")
	if err != nil {
		return fmt.Errorf("%w: %w", errGetFlagFailed, err)
	}

	logLevel, err := logrus.ParseLevel(rawLogLevel)
	if err != nil {
		return fmt.Errorf("%w: %w", errInvalidLogLevel, err)
	}

	logrus.SetLevel(logLevel)

	return nil
}

// configureLogFormat sets the logrus formatter based on the specified format and color preference.
// It returns an error if the format is invalid.
func configureLogFormat(logFormat string, noColor bool) error {
	switch strings.ToLower(logFormat) {
	case "auto":
		logrus.SetFormatter(&logrus.TextFormatter{
			DisableColors:             noColor,
			EnvironmentOverrideColors: true,
		})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "logfmt":
		logrus.SetFormatter(&logrus.TextFormatter{
			DisableColors: true,
			FullTimestamp: true,
		})
	case "pretty":
		logrus.SetFormatter(&logrus.TextFormatter{
			ForceColors:   !noColor,
			FullTimestamp: false,
		})
	default:
		return fmt.Errorf("%w: %s", errInvalidLogFormat, logFormat)
	}

	return nil
}

// flagIsEnabled checks if a boolean flag is set to true.
// It exits with a fatal error if the flag is not defined.
func flagIsEnabled(flags *pflag.FlagSet, name string) bool {
	value, err := flags.GetBool(name)
	if err != nil {
		logrus.Fatalf("The flag %q is not defined", name)
	}

	return value
}
