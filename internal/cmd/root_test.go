package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestSetVersionInfo(t *testing.T) {
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		versionInfo.Version = origVersion
		versionInfo.Commit = origCommit
		versionInfo.BuildDate = origBuildDate
	}()

	SetVersionInfo("1.2.0", "abc123", "2026-08-01")

	assert.Equal(t, "1.2.0", versionInfo.Version)
	assert.Equal(t, "abc123", versionInfo.Commit)
	assert.Equal(t, "2026-08-01", versionInfo.BuildDate)
}

func TestSetDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	setDefaults()

	assert.Equal(t, "info", viper.GetString("logging.level"))
	assert.Equal(t, "structured", viper.GetString("logging.profile"))
	assert.Equal(t, "", viper.GetString("api_key"))
}

func TestOrUnknown(t *testing.T) {
	assert.Equal(t, "unknown", orUnknown(""))
	assert.Equal(t, "v1", orUnknown("v1"))
}

func TestExitCodeReachesProcessStatus(t *testing.T) {
	err := exitError(foundry.ExitInvalidArgument, "Invalid manifest", errors.New("bad yaml"))
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
	assert.Equal(t, "Invalid manifest: bad yaml", err.Error())

	// The code survives further wrapping on the way up.
	wrapped := fmt.Errorf("sync: %w", err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(wrapped))

	// Errors without a code fall back to the generic failure status.
	assert.Equal(t, 1, ExitCode(errors.New("plain")))

	assert.ErrorContains(t, errors.Unwrap(err), "bad yaml")
}
