// Package config gathers all run-time options into one immutable value that
// is handed to every pipeline stage. Stages never read ambient process state.
package config

import (
	"os"

	"github.com/spf13/viper"

	"github.com/unraid-forge/nvp2p/src/common/paths"
)

// Defaults for the Unraid driver-plugin layout and the upstream repositories.
const (
	DefaultPackagesRoot = "/boot/config/plugins/nvidia-driver/packages"
	DefaultPatchedRepo  = "tinygrad/open-gpu-kernel-modules"
	DefaultUpstreamRepo = "NVIDIA/open-gpu-kernel-modules"
	DefaultBuilderRepo  = "unraid-forge/nvidia-builder"
	DefaultBuilderRef   = "master"
	DefaultBuilderImage = "nvp2p-builder:latest"
)

// Config holds every option of a pipeline run. It is assembled once in the
// command layer and treated as read-only afterwards.
type Config struct {
	// KernelVersion is the explicit kernel version override, empty to detect
	// from the running system
	KernelVersion string

	// DriverVersion is the explicit driver version override, empty to extract
	// from the installed package filename
	DriverVersion string

	// SourceDir is an explicit source tree path, empty to use the cache or
	// download
	SourceDir string

	// PackagesRoot is the driver plugin packages directory
	PackagesRoot string

	// WorkRoot is where source trees, logs, and scratch directories live
	WorkRoot string

	// CheckOnly runs the upstream compatibility check and exits
	CheckOnly bool

	// Simulate reports every decision without mutating anything
	Simulate bool

	// Reload unloads and reloads the live driver modules after patching
	Reload bool

	// InBuildEnv marks a run that is already inside the build container
	InBuildEnv bool

	// PatchedRepo is the "owner/name" of the fork carrying the p2p branches
	PatchedRepo string

	// UpstreamRepo is the "owner/name" of the unmodified upstream project
	UpstreamRepo string

	// BuilderRepo is the "owner/name" of the builder image build context
	BuilderRepo string

	// BuilderRef is the branch of the builder image build context
	BuilderRef string

	// BuilderImage is the tag of the builder container image
	BuilderImage string

	// Args holds the original CLI arguments, forwarded verbatim into the
	// build container on delegation
	Args []string
}

// SetDefaults registers the config defaults with viper. Called once during
// CLI initialization, before flags are bound.
func SetDefaults() {
	viper.SetDefault("packages.root", DefaultPackagesRoot)
	viper.SetDefault("forge.patched_repo", DefaultPatchedRepo)
	viper.SetDefault("forge.upstream_repo", DefaultUpstreamRepo)
	viper.SetDefault("builder.repo", DefaultBuilderRepo)
	viper.SetDefault("builder.ref", DefaultBuilderRef)
	viper.SetDefault("builder.image", DefaultBuilderImage)
}

// FromViper builds a Config from the bound viper state plus the forwarded
// CLI arguments. WorkRoot falls back to the current directory.
func FromViper(args []string) Config {
	workRoot := paths.Expand(viper.GetString("work.root"))
	if workRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			workRoot = wd
		} else {
			workRoot = "."
		}
	}

	return Config{
		KernelVersion: viper.GetString("kernel.version"),
		DriverVersion: viper.GetString("driver.version"),
		SourceDir:     paths.Expand(viper.GetString("source.dir")),
		PackagesRoot:  paths.Expand(viper.GetString("packages.root")),
		WorkRoot:      workRoot,
		CheckOnly:     viper.GetBool("mode.check"),
		Simulate:      viper.GetBool("mode.simulate"),
		Reload:        viper.GetBool("mode.reload"),
		InBuildEnv:    viper.GetBool("mode.in_build_env"),
		PatchedRepo:   viper.GetString("forge.patched_repo"),
		UpstreamRepo:  viper.GetString("forge.upstream_repo"),
		BuilderRepo:   viper.GetString("builder.repo"),
		BuilderRef:    viper.GetString("builder.ref"),
		BuilderImage:  viper.GetString("builder.image"),
		Args:          args,
	}
}
