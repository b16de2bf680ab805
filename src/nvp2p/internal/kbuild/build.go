// Package kbuild compiles the out-of-tree kernel modules from an acquired
// source tree and collects the built artifacts.
package kbuild

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/unraid-forge/nvp2p/src/common/errors"
	"github.com/unraid-forge/nvp2p/src/common/logs"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/config"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/nvver"
)

// outputSubdir is the conventional build-output subdirectory scanned for
// compiled modules.
const outputSubdir = "kernel-open"

// moduleExt is the compiled kernel module file extension.
const moduleExt = ".ko"

// ModuleSet maps module filenames to their absolute build-output paths.
type ModuleSet map[string]string

// Builder runs the kernel module build.
type Builder struct {
	cfg config.Config
	log *logs.Logger
}

// New creates a Builder.
func New(cfg config.Config, logger *logs.Logger) *Builder {
	return &Builder{cfg: cfg, log: logger}
}

// LogPath returns the persistent build log location for a driver version.
func (b *Builder) LogPath(driver nvver.DriverVersion) string {
	return filepath.Join(b.cfg.WorkRoot, "build-"+driver.String()+".log")
}

// buildArgs assembles the make invocation for the target kernel, using all
// available parallelism.
func buildArgs(kernel nvver.KernelVersion) []string {
	return []string{
		"-j", fmt.Sprintf("%d", runtime.NumCPU()),
		"modules",
		"SYSSRC=/lib/modules/" + kernel.Full + "/build",
	}
}

// Build compiles the modules for the target kernel version and returns the
// set of built artifacts. Build output is captured to a persistent log file
// regardless of success or failure. In simulate mode the intended command is
// reported and nothing runs.
func (b *Builder) Build(ctx context.Context, tree string, kernel nvver.KernelVersion, driver nvver.DriverVersion) (ModuleSet, error) {
	args := buildArgs(kernel)

	if b.cfg.Simulate {
		b.log.Info("Simulate: would build kernel modules",
			"dir", tree, "command", "make "+strings.Join(args, " "))
		return ModuleSet{}, nil
	}

	logPath := b.LogPath(driver)
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, errors.ErrBuildFailed.WithCause(err)
	}
	defer logFile.Close()

	b.log.Info("Building kernel modules",
		"dir", tree, "kernel", kernel.Full, "jobs", runtime.NumCPU(), "log", logPath)

	cmd := exec.CommandContext(ctx, "make", args...)
	cmd.Dir = tree
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Run(); err != nil {
		return nil, errors.ErrBuildFailed.WithMessagef(
			"kernel module build failed, see %s", logPath).WithCause(err)
	}

	modules, err := ScanModules(filepath.Join(tree, outputSubdir))
	if err != nil {
		return nil, errors.ErrBuildFailed.WithCause(err)
	}
	if len(modules) == 0 {
		return nil, errors.ErrNoArtifacts.WithMessagef(
			"build completed but produced no %s files under %s, see %s",
			moduleExt, filepath.Join(tree, outputSubdir), logPath)
	}

	b.log.Info("Kernel modules built", "count", len(modules))
	for name := range modules {
		b.log.Debug("Built module", "module", name)
	}
	return modules, nil
}

// ScanModules recursively collects compiled module artifacts under dir.
func ScanModules(dir string) (ModuleSet, error) {
	modules := ModuleSet{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && filepath.Ext(d.Name()) == moduleExt {
			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}
			modules[d.Name()] = abs
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	return modules, nil
}
