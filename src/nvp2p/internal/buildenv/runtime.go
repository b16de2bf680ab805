package buildenv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// RuntimeType identifies a container runtime binary.
type RuntimeType string

const (
	RuntimeDocker RuntimeType = "docker"
	RuntimePodman RuntimeType = "podman"
)

// DetectRuntime probes for a usable container runtime, docker first.
func DetectRuntime() (RuntimeType, bool) {
	for _, rt := range []RuntimeType{RuntimeDocker, RuntimePodman} {
		if exec.Command(string(rt), "version").Run() == nil {
			return rt, true
		}
	}
	return "", false
}

// Mount represents a container bind mount.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RunOpts holds options for running a container.
type RunOpts struct {
	Image   string
	Mounts  []Mount
	Env     map[string]string
	Command []string
	WorkDir string
	Stdout  io.Writer
	Stderr  io.Writer
}

// Runtime wraps OCI container runtime operations (docker, podman).
type Runtime struct {
	binary RuntimeType
}

// NewRuntime creates a Runtime for the given binary.
func NewRuntime(binary RuntimeType) *Runtime {
	return &Runtime{binary: binary}
}

// Type returns the runtime binary name.
func (r *Runtime) Type() RuntimeType {
	return r.binary
}

// RunArgs builds the full argument vector for a container run. Exposed
// separately so the exact manual invocation can be shown to the operator.
func (r *Runtime) RunArgs(opts RunOpts) []string {
	args := []string{"run", "--rm"}

	for _, m := range opts.Mounts {
		mountStr := fmt.Sprintf("%s:%s", m.Source, m.Target)
		if m.ReadOnly {
			mountStr += ":ro"
		}
		args = append(args, "-v", mountStr)
	}

	for k, v := range opts.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}

	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}

	args = append(args, opts.Image)
	args = append(args, opts.Command...)
	return args
}

// Run executes a command inside a container. The returned exit code is the
// container process's own; err is non-nil only for failures other than a
// non-zero command exit.
func (r *Runtime) Run(ctx context.Context, opts RunOpts) (int, error) {
	cmd := exec.CommandContext(ctx, string(r.binary), r.RunArgs(opts)...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("container execution failed: %w", err)
	}
	return 0, nil
}

// ImageExists checks if an image is present locally.
func (r *Runtime) ImageExists(ctx context.Context, image string) bool {
	cmd := exec.CommandContext(ctx, string(r.binary), "image", "inspect", image)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run() == nil
}

// BuildImage builds an image from a context directory.
func (r *Runtime) BuildImage(ctx context.Context, image, contextDir string, logWriter io.Writer) error {
	cmd := exec.CommandContext(ctx, string(r.binary), "build", "-t", image, contextDir)

	var stderr bytes.Buffer
	if logWriter != nil {
		cmd.Stdout = logWriter
		cmd.Stderr = io.MultiWriter(&stderr, logWriter)
	} else {
		cmd.Stderr = &stderr
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("image build failed: %w\nstderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
