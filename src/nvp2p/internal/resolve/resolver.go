// Package resolve determines the kernel and driver versions a run operates
// on, locates the installed driver package, and checks upstream patch
// compatibility.
package resolve

import (
	"context"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/unraid-forge/nvp2p/src/common/errors"
	"github.com/unraid-forge/nvp2p/src/common/logs"
	"github.com/unraid-forge/nvp2p/src/common/paths"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/config"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/forge"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/nvver"
)

// packagePattern matches the installed driver package filename convention.
const packagePattern = "nvidia-*.txz"

// Resolution holds everything later stages need to know about the installed
// driver package and the versions in play.
type Resolution struct {
	Kernel nvver.KernelVersion
	Driver nvver.DriverVersion

	// PackageDir is <packagesRoot>/<short-kernel-version>
	PackageDir string

	// PackagePath is the installed driver package archive
	PackagePath string

	// ChecksumPath is the companion .md5 file beside the package
	ChecksumPath string
}

// Compatibility is the outcome of the upstream patch availability check.
type Compatibility struct {
	Compatible bool

	// Available lists every driver version with a patched branch upstream,
	// sorted ascending under version-aware ordering
	Available []nvver.DriverVersion

	// Latest is the newest available version, suggested when the resolved
	// version is not compatible
	Latest nvver.DriverVersion
}

// Resolver implements version and package discovery.
type Resolver struct {
	cfg   config.Config
	forge *forge.Client
	log   *logs.Logger
}

// New creates a Resolver.
func New(cfg config.Config, client *forge.Client, logger *logs.Logger) *Resolver {
	return &Resolver{cfg: cfg, forge: client, log: logger}
}

// Resolve determines kernel version, package location, and driver version.
// It performs no network access.
func (r *Resolver) Resolve() (Resolution, error) {
	var res Resolution

	kernelStr := r.cfg.KernelVersion
	if kernelStr == "" {
		detected, err := runningKernel()
		if err != nil {
			return res, errors.ErrKernelVersionUnknown.WithCause(err)
		}
		kernelStr = detected
	}

	kernel, err := nvver.ParseKernel(kernelStr)
	if err != nil {
		return res, errors.ErrKernelVersionUnknown.WithCause(err)
	}
	res.Kernel = kernel

	res.PackageDir = filepath.Join(r.cfg.PackagesRoot, kernel.Short)
	if !paths.IsDir(res.PackageDir) {
		return res, errors.ErrPackageDirNotFound.WithMessagef(
			"package directory %s not found, is the nvidia driver plugin installed for kernel %s?",
			res.PackageDir, kernel.Full)
	}

	matches, err := filepath.Glob(filepath.Join(res.PackageDir, packagePattern))
	if err != nil {
		return res, errors.ErrPackageNotFound.WithCause(err)
	}
	if len(matches) == 0 {
		return res, errors.ErrPackageNotFound.WithMessagef(
			"no %s package found in %s", packagePattern, res.PackageDir)
	}
	sort.Strings(matches)
	if len(matches) > 1 {
		r.log.Warn("Multiple driver packages found, using the first",
			"dir", res.PackageDir, "count", len(matches), "using", filepath.Base(matches[0]))
	}
	res.PackagePath = matches[0]
	res.ChecksumPath = res.PackagePath + ".md5"

	if r.cfg.DriverVersion != "" {
		driver, err := nvver.ParseDriver(r.cfg.DriverVersion)
		if err != nil {
			return res, errors.ErrDriverVersionUnparseable.WithCause(err)
		}
		res.Driver = driver
	} else {
		driver, err := nvver.ExtractDriver(filepath.Base(res.PackagePath))
		if err != nil {
			return res, errors.ErrDriverVersionUnparseable.WithMessagef(
				"cannot extract a driver version from %s, pass one explicitly",
				filepath.Base(res.PackagePath))
		}
		res.Driver = driver
	}

	r.log.Info("Resolved versions",
		"kernel", res.Kernel.Full,
		"driver", res.Driver.String(),
		"package", filepath.Base(res.PackagePath))
	return res, nil
}

// CheckCompatibility queries the patched fork's branch listing and reports
// whether the given driver version has a peer-to-peer patch available.
func (r *Resolver) CheckCompatibility(ctx context.Context, driver nvver.DriverVersion) (Compatibility, error) {
	repo, err := forge.ParseRepo(r.cfg.PatchedRepo)
	if err != nil {
		return Compatibility{}, errors.New(errors.DomainConfig, errors.CodeMismatch,
			errors.ExitGeneric, err.Error())
	}

	branches, err := r.forge.ListBranches(ctx, repo)
	if err != nil {
		return Compatibility{}, err
	}

	var available []nvver.DriverVersion
	for _, name := range branches {
		if v, ok := nvver.DriverFromBranch(name); ok {
			available = append(available, v)
		}
	}
	if len(available) == 0 {
		return Compatibility{}, errors.ErrForgeEmpty.WithMessagef(
			"repository %s has no %s branches", repo, nvver.PatchSuffix)
	}

	nvver.Sort(available)
	latest, _ := nvver.Latest(available)

	comp := Compatibility{
		Available: available,
		Latest:    latest,
	}
	for _, v := range available {
		if v.Equal(driver) {
			comp.Compatible = true
			break
		}
	}
	return comp, nil
}

// runningKernel reads the release string of the running kernel.
func runningKernel() (string, error) {
	out, err := exec.Command("uname", "-r").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
