package reload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unraid-forge/nvp2p/src/common/logs"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/config"
)

// fakeRunner records every command and fails the ones listed in failOn.
type fakeRunner struct {
	commands []string
	failOn   map[string]bool
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) (string, error) {
	cmd := strings.TrimSpace(name + " " + strings.Join(args, " "))
	f.commands = append(f.commands, cmd)
	if f.failOn[cmd] {
		return "busy", fmt.Errorf("exit status 1")
	}
	return "", nil
}

func withProcModules(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modules")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	orig := procModules
	procModules = path
	t.Cleanup(func() { procModules = orig })
}

func newController(cfg config.Config, runner *fakeRunner) *Controller {
	c := New(cfg, logs.NewDefault())
	c.run = runner.run
	return c
}

func TestReload_FullSequence(t *testing.T) {
	withProcModules(t, strings.Join([]string{
		"nvidia_drm 131072 2 - Live 0x0000000000000000",
		"nvidia_modeset 1611776 3 nvidia_drm, Live 0x0000000000000000",
		"nvidia_uvm 3642368 0 - Live 0x0000000000000000",
		"nvidia 62572544 18 nvidia_modeset,nvidia_uvm, Live 0x0000000000000000",
	}, "\n"))

	runner := &fakeRunner{}
	c := newController(config.Config{}, runner)
	c.Reload(context.Background(), "/boot/packages/nvidia-590.48.01.txz")

	assert.Equal(t, []string{
		"rmmod nvidia_drm",
		"rmmod nvidia_modeset",
		"rmmod nvidia_uvm",
		"rmmod nvidia",
		"installpkg /boot/packages/nvidia-590.48.01.txz",
		"depmod -a",
		"modprobe nvidia",
	}, runner.commands)
}

func TestReload_SkipsUnloadedModules(t *testing.T) {
	withProcModules(t, "nvidia 62572544 0 - Live 0x0000000000000000\n")

	runner := &fakeRunner{}
	c := newController(config.Config{}, runner)
	c.Reload(context.Background(), "/boot/packages/nvidia.txz")

	assert.Equal(t, []string{
		"rmmod nvidia",
		"installpkg /boot/packages/nvidia.txz",
		"depmod -a",
		"modprobe nvidia",
	}, runner.commands)
}

func TestReload_FailuresAreNonFatal(t *testing.T) {
	withProcModules(t, "nvidia 62572544 18 - Live 0x0000000000000000\n")

	runner := &fakeRunner{failOn: map[string]bool{
		"rmmod nvidia": true,
	}}
	c := newController(config.Config{}, runner)
	c.Reload(context.Background(), "/boot/packages/nvidia.txz")

	// the sequence continues past the failed unload
	assert.Contains(t, runner.commands, "installpkg /boot/packages/nvidia.txz")
	assert.Contains(t, runner.commands, "modprobe nvidia")
}

func TestReload_SimulateRunsNothing(t *testing.T) {
	runner := &fakeRunner{}
	c := newController(config.Config{Simulate: true}, runner)
	c.Reload(context.Background(), "/boot/packages/nvidia.txz")

	assert.Empty(t, runner.commands)
}
