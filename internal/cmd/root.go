// Package cmd implements the mobsync command tree.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/qolidata/mobsync/internal/observability"
)

// versionInfo holds build-time version metadata, set by the main package.
var versionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   "mobsync",
	Short: "Sync geofenced mobility ping data from the vendor platform",
	Long: `mobsync orchestrates bulk exports of mobility ping data: it submits
geofenced extraction jobs to the vendor API, polls them to completion, and
copies the output into the destination data lake, partitioned by city and
date. Runs are chunked, retried, and resumable.

Configuration comes from a run manifest (--job) plus environment variables
for secrets and ambient settings:

  MOBSYNC_API_KEY           vendor API key (required to execute)
  MOBSYNC_LOGGING_LEVEL     log level (default: info)
  MOBSYNC_LOGGING_PROFILE   structured or console (default: structured)`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return observability.InitCLILogger(
			viper.GetString("logging.level"),
			viper.GetString("logging.profile"),
		)
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	setDefaults()
}

// initConfig binds environment variables: MOBSYNC_LOGGING_LEVEL maps to
// logging.level and so on.
func initConfig() {
	viper.SetEnvPrefix("MOBSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// setDefaults registers default values for all ambient settings.
func setDefaults() {
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.profile", "structured")
	viper.SetDefault("api_key", "")
}

// Execute runs the command tree with the given context.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &codedError{code: code, message: message, err: err}
}

type codedError struct {
	code    int
	message string
	err     error
}

func (e *codedError) Error() string {
	return fmt.Sprintf("%s: %v", e.message, e.err)
}

func (e *codedError) Unwrap() error {
	return e.err
}

// ExitCode returns the foundry exit code carried by err, or 1 when err
// carries none. The main package maps the command error to the process
// status with it.
func ExitCode(err error) int {
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	return 1
}
