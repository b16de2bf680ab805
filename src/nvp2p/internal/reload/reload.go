// Package reload swaps the running driver for the spliced one without a
// reboot: unload the module stack, reinstall the package, refresh module
// dependencies, and load the new driver.
package reload

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/unraid-forge/nvp2p/src/common/logs"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/config"
)

// unloadOrder lists the driver modules in dependency order, dependents
// first, so rmmod succeeds without forcing.
var unloadOrder = []string{"nvidia_drm", "nvidia_modeset", "nvidia_uvm", "nvidia"}

// rootModule is the module loaded after the reinstall.
const rootModule = "nvidia"

// procModules is the kernel's loaded module list. Overridden in tests.
var procModules = "/proc/modules"

// runCommand executes a host command and returns its combined output on
// failure. Swapped out in tests.
type runCommand func(ctx context.Context, name string, args ...string) (string, error)

func execCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return strings.TrimSpace(out.String()), err
}

// Controller performs the live driver swap.
type Controller struct {
	cfg config.Config
	run runCommand
	log *logs.Logger
}

// New creates a Controller.
func New(cfg config.Config, logger *logs.Logger) *Controller {
	return &Controller{cfg: cfg, run: execCommand, log: logger}
}

// Reload runs the unload/reinstall/reload sequence against the spliced
// package. Every step is best-effort: a module can be busy (a container or
// X session holding the device) or simply not loaded, and neither situation
// should fail a pipeline whose package work already succeeded. Failures are
// reported with the fallback of rebooting to pick up the new package.
func (c *Controller) Reload(ctx context.Context, packagePath string) {
	if c.cfg.Simulate {
		c.log.Info("Simulate: would reload the driver",
			"unload", strings.Join(unloadOrder, " "), "package", packagePath)
		return
	}

	c.log.Info("Reloading driver from spliced package", "package", packagePath)

	loaded := loadedModules()

	degraded := false
	for _, module := range unloadOrder {
		if !loaded[module] {
			c.log.Debug("Module not loaded, skipping unload", "module", module)
			continue
		}
		if !c.step(ctx, "rmmod", module) {
			degraded = true
		}
	}

	degraded = !c.step(ctx, "installpkg", packagePath) || degraded
	degraded = !c.step(ctx, "depmod", "-a") || degraded
	degraded = !c.step(ctx, "modprobe", rootModule) || degraded

	if degraded {
		c.log.Warn("Driver reload did not complete cleanly; reboot to load the new modules")
		return
	}
	c.log.Info("Driver reloaded")
}

// loadedModules reads the kernel's loaded module list. An unreadable list
// means every unload is attempted.
func loadedModules() map[string]bool {
	data, err := os.ReadFile(procModules)
	if err != nil {
		loaded := make(map[string]bool, len(unloadOrder))
		for _, m := range unloadOrder {
			loaded[m] = true
		}
		return loaded
	}

	loaded := map[string]bool{}
	for _, line := range strings.Split(string(data), "\n") {
		if name, _, ok := strings.Cut(line, " "); ok {
			loaded[name] = true
		}
	}
	return loaded
}

// step runs one reload command, logging failure as a warning.
func (c *Controller) step(ctx context.Context, name string, args ...string) bool {
	out, err := c.run(ctx, name, args...)
	if err != nil {
		c.log.Warn("Reload step failed",
			"command", name+" "+strings.Join(args, " "), "output", out, "error", err)
		return false
	}
	c.log.Debug("Reload step done", "command", name+" "+strings.Join(args, " "))
	return true
}
