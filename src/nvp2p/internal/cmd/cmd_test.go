package cmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/buildenv"
)

func TestRootFlags(t *testing.T) {
	for _, name := range []string{
		"kernel", "driver", "source", "packages-root", "work-root",
		"check", "simulate", "reload", "in-build-env",
	} {
		assert.NotNil(t, rootCmd.Flags().Lookup(name), name)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("log-level"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("log-output"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestInBuildEnvFlagIsHiddenAndMatchesMarker(t *testing.T) {
	flag := rootCmd.Flags().Lookup("in-build-env")
	require.NotNil(t, flag)
	assert.True(t, flag.Hidden)

	// the flag the container delegation appends must parse here
	assert.Equal(t, buildenv.InBuildEnvFlag, "--"+flag.Name)
}

func TestVersionSubcommand(t *testing.T) {
	var found bool
	for _, c := range rootCmd.Commands() {
		if strings.HasPrefix(c.Use, "version") {
			found = true
		}
	}
	assert.True(t, found)
}
