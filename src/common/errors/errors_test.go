package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	cause := stderrors.New("no such file")
	err := Wrap(cause, DomainBuildEnv, CodeInternal, ExitGeneric, "cannot locate the pipeline binary")

	assert.Equal(t, "buildenv.internal_error: cannot locate the pipeline binary: no such file", err.Error())
	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.True(t, Is(err, New(DomainBuildEnv, CodeInternal, ExitGeneric, "anything")))
}

func TestWithCauseKeepsSentinelIdentity(t *testing.T) {
	err := ErrNoPatchAvailable.WithCause(stderrors.New("404"))

	require.True(t, Is(err, ErrNoPatchAvailable))
	assert.Equal(t, ExitNoPatch, GetExitCode(err))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitDiscovery, GetExitCode(ErrPackageDirNotFound))
	assert.Equal(t, ExitNoTooling, GetExitCode(ErrNoTooling.WithMessage("missing gcc")))

	// non-structured errors map to the generic failure status
	assert.Equal(t, 1, GetExitCode(stderrors.New("plain")))
}
