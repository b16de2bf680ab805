// Package buildenv decides where kernel modules get compiled: natively on
// the host when a toolchain is present, or inside a managed build container
// that re-invokes the pipeline with the original arguments.
package buildenv

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/unraid-forge/nvp2p/src/common/errors"
	"github.com/unraid-forge/nvp2p/src/common/logs"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/config"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/forge"
)

// InBuildEnvFlag is the internal marker flag appended to the forwarded
// arguments of a delegated run.
const InBuildEnvFlag = "--in-build-env"

// bootMount is the host path bind-mounted into the build container so the
// delegated run sees the same plugin package tree.
const bootMount = "/boot"

// containerBinPath is where the pipeline binary is mounted inside the
// container.
const containerBinPath = "/usr/local/bin/nvp2p"

// DelegatedExit reports that the pipeline ran to completion inside the build
// container; the outer process must exit with the inner exit code verbatim.
type DelegatedExit struct {
	Code int
}

func (e *DelegatedExit) Error() string {
	return fmt.Sprintf("delegated build environment exited with code %d", e.Code)
}

// Environment is one way of running the build portion of the pipeline.
// NativeEnvironment runs it in-process; ContainerEnvironment launches the
// same pipeline inside an isolated container and relays its exit status.
type Environment interface {
	// Name identifies the environment in logs
	Name() string

	// Run executes the remainder of the pipeline. The native implementation
	// invokes inner directly; the containerized implementation ignores inner,
	// delegates the whole pipeline into the container, and returns a
	// *DelegatedExit carrying the inner exit code.
	Run(ctx context.Context, inner func(context.Context) error) error
}

// Select is the single decision function choosing the build environment.
// It is fatal to be inside the build container without a toolchain, and
// fatal to have neither a toolchain nor a container runtime.
func Select(cfg config.Config, client *forge.Client, logger *logs.Logger) (Environment, error) {
	missing := MissingTools()
	if len(missing) == 0 {
		return &NativeEnvironment{log: logger}, nil
	}

	if cfg.InBuildEnv {
		return nil, errors.ErrBrokenBuildImage.WithMessagef(
			"build container is missing %s; rebuild or update the %s image",
			strings.Join(missing, ", "), cfg.BuilderImage)
	}

	rt, ok := DetectRuntime()
	if !ok {
		return nil, errors.ErrNoTooling.WithMessagef(
			"missing %s and no container runtime found; install a toolchain, or run:\n  %s",
			strings.Join(missing, ", "), manualRunCommand(cfg))
	}

	logger.Info("No native toolchain, delegating to build container",
		"missing", strings.Join(missing, ", "), "runtime", string(rt))

	return &ContainerEnvironment{
		cfg:     cfg,
		runtime: NewRuntime(rt),
		forge:   client,
		log:     logger,
	}, nil
}

// NativeEnvironment compiles directly on the host.
type NativeEnvironment struct {
	log *logs.Logger
}

// Name identifies the environment in logs
func (e *NativeEnvironment) Name() string { return "native" }

// Run executes the remainder of the pipeline in-process.
func (e *NativeEnvironment) Run(ctx context.Context, inner func(context.Context) error) error {
	return inner(ctx)
}

// ContainerEnvironment launches the pipeline inside the builder container.
type ContainerEnvironment struct {
	cfg     config.Config
	runtime *Runtime
	forge   *forge.Client
	log     *logs.Logger
}

// Name identifies the environment in logs
func (e *ContainerEnvironment) Name() string { return "container" }

// Run ensures the builder image exists, then re-invokes the pipeline inside
// a fresh container with the work tree, the boot device, and the pipeline
// binary bind-mounted. The inner exit code is relayed unchanged.
func (e *ContainerEnvironment) Run(ctx context.Context, _ func(context.Context) error) error {
	if e.cfg.Simulate {
		e.log.Info("Simulate: would ensure builder image and re-run inside container",
			"image", e.cfg.BuilderImage,
			"command", string(e.runtime.Type())+" "+strings.Join(e.runtime.RunArgs(e.runOpts(containerBinPath)), " "))
		return nil
	}

	if err := e.EnsureImage(ctx); err != nil {
		return err
	}

	self, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, errors.DomainBuildEnv, errors.CodeInternal, errors.ExitGeneric,
			"cannot locate the pipeline binary for container delegation")
	}

	opts := e.runOpts(self)
	opts.Stdout = os.Stdout
	opts.Stderr = os.Stderr

	e.log.Info("Re-running pipeline inside build container", "image", e.cfg.BuilderImage)

	code, err := e.runtime.Run(ctx, opts)
	if err != nil {
		return errors.Wrap(err, errors.DomainBuildEnv, errors.CodeInternal, errors.ExitGeneric,
			"container delegation failed")
	}
	return &DelegatedExit{Code: code}
}

// runOpts assembles the container invocation for a delegated run.
func (e *ContainerEnvironment) runOpts(selfPath string) RunOpts {
	args := make([]string, 0, len(e.cfg.Args)+2)
	args = append(args, containerBinPath)
	args = append(args, e.cfg.Args...)
	args = append(args, InBuildEnvFlag)

	return RunOpts{
		Image: e.cfg.BuilderImage,
		Mounts: []Mount{
			{Source: e.cfg.WorkRoot, Target: e.cfg.WorkRoot},
			{Source: bootMount, Target: bootMount},
			{Source: selfPath, Target: containerBinPath, ReadOnly: true},
		},
		WorkDir: e.cfg.WorkRoot,
		Command: args,
	}
}

// manualRunCommand renders the container invocation an operator can run by
// hand when no runtime is installed.
func manualRunCommand(cfg config.Config) string {
	env := &ContainerEnvironment{cfg: cfg, runtime: NewRuntime(RuntimeDocker)}
	return "docker " + strings.Join(env.runtime.RunArgs(env.runOpts(containerBinPath)), " ")
}
