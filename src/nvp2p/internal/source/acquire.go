// Package source obtains a driver source tree matching the resolved driver
// version: an explicit directory, a cached sibling directory, or a freshly
// downloaded archive from the patched fork or the unmodified upstream.
package source

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/unraid-forge/nvp2p/src/common/errors"
	"github.com/unraid-forge/nvp2p/src/common/logs"
	"github.com/unraid-forge/nvp2p/src/common/paths"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/config"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/forge"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/nvver"
)

// manifestFile is the version manifest inside a driver source tree.
const manifestFile = "version.mk"

// manifestKey is the manifest variable naming the driver version.
const manifestKey = "NVIDIA_VERSION"

// Origin describes where an acquired source tree came from.
type Origin string

const (
	OriginExplicit Origin = "explicit"
	OriginCache    Origin = "cache"
	OriginPatched  Origin = "patched-branch"
	OriginUpstream Origin = "upstream-tag"
)

// Tree is an acquired source tree.
type Tree struct {
	Path   string
	Origin Origin

	// HasPatch is false when the tree came from the unmodified upstream and
	// therefore lacks peer-to-peer support
	HasPatch bool
}

// Acquirer implements source tree acquisition.
type Acquirer struct {
	cfg   config.Config
	forge *forge.Client
	log   *logs.Logger
}

// New creates an Acquirer.
func New(cfg config.Config, client *forge.Client, logger *logs.Logger) *Acquirer {
	return &Acquirer{cfg: cfg, forge: client, log: logger}
}

// CacheDir returns the conventional sibling cache directory for a driver
// version.
func (a *Acquirer) CacheDir(driver nvver.DriverVersion) string {
	return filepath.Join(a.cfg.WorkRoot, "open-gpu-kernel-modules-"+driver.String())
}

// Acquire obtains a source tree for the given driver version, in priority
// order: explicit directory, sibling cache, download. In simulate mode no
// network download or filesystem mutation occurs; the returned tree reports
// the action that would be taken (existence probes still run, since they are
// discovery, not mutation).
func (a *Acquirer) Acquire(ctx context.Context, driver nvver.DriverVersion) (Tree, error) {
	// 1. Explicit directory: user intent overrides safety.
	if a.cfg.SourceDir != "" {
		tree := Tree{Path: a.cfg.SourceDir, Origin: OriginExplicit, HasPatch: true}
		manifest, err := readManifestVersion(a.cfg.SourceDir)
		if err != nil {
			a.log.Warn("Source directory has no readable version manifest, proceeding anyway",
				"dir", a.cfg.SourceDir, "error", err)
			return tree, nil
		}
		if !manifest.Equal(driver) {
			a.log.Warn("Source directory version does not match the installed driver, proceeding anyway",
				"dir", a.cfg.SourceDir, "manifest", manifest.String(), "driver", driver.String())
		}
		return tree, nil
	}

	// 2. Sibling cache: reuse only on an exact manifest match.
	cacheDir := a.CacheDir(driver)
	if paths.IsDir(cacheDir) {
		manifest, err := readManifestVersion(cacheDir)
		if err == nil && manifest.Equal(driver) {
			a.log.Info("Reusing cached source tree", "dir", cacheDir)
			return Tree{Path: cacheDir, Origin: OriginCache, HasPatch: true}, nil
		}
		a.log.Warn("Ignoring cached source tree with mismatched manifest", "dir", cacheDir)
	}

	// 3. Download: patched branch first, upstream tag as fallback.
	patchedRepo, err := forge.ParseRepo(a.cfg.PatchedRepo)
	if err != nil {
		return Tree{}, errors.New(errors.DomainConfig, errors.CodeMismatch, errors.ExitGeneric, err.Error())
	}
	upstreamRepo, err := forge.ParseRepo(a.cfg.UpstreamRepo)
	if err != nil {
		return Tree{}, errors.New(errors.DomainConfig, errors.CodeMismatch, errors.ExitGeneric, err.Error())
	}

	branchURL := a.forge.BranchArchiveURL(patchedRepo, driver.PatchBranch())
	tagURL := a.forge.TagArchiveURL(upstreamRepo, driver.String())

	url := branchURL
	origin := OriginPatched
	hasPatch := true

	exists, err := a.forge.RefExists(ctx, branchURL)
	if err != nil {
		return Tree{}, err
	}
	if !exists {
		a.log.Warn("No peer-to-peer branch for this driver version, falling back to the unmodified upstream",
			"branch", driver.PatchBranch(), "repo", patchedRepo.String())

		exists, err = a.forge.RefExists(ctx, tagURL)
		if err != nil {
			return Tree{}, err
		}
		if !exists {
			return Tree{}, errors.ErrNoPatchAvailable.WithMessagef(
				"neither branch %s on %s nor tag %s on %s exists; run the compatibility check or supply a source directory",
				driver.PatchBranch(), patchedRepo, driver.String(), upstreamRepo)
		}

		a.log.Warn("Building from the unmodified upstream tag, peer-to-peer support will be ABSENT",
			"tag", driver.String(), "repo", upstreamRepo.String())
		url = tagURL
		origin = OriginUpstream
		hasPatch = false
	}

	if a.cfg.Simulate {
		a.log.Info("Simulate: would download and extract source archive",
			"url", url, "dest", cacheDir)
		return Tree{Path: cacheDir, Origin: origin, HasPatch: hasPatch}, nil
	}

	if err := a.download(ctx, url, cacheDir); err != nil {
		return Tree{}, err
	}

	a.log.Info("Source tree ready", "dir", cacheDir, "origin", origin)
	return Tree{Path: cacheDir, Origin: origin, HasPatch: hasPatch}, nil
}

// download fetches the archive and extracts it with its top-level wrapper
// stripped into destDir. The archive file is removed after extraction.
func (a *Acquirer) download(ctx context.Context, url, destDir string) error {
	if err := paths.EnsureDirPath(a.cfg.WorkRoot); err != nil {
		return fmt.Errorf("failed to create work root: %w", err)
	}

	// removed on every path so a failed download leaves no partial archive
	archivePath := destDir + ".tar.gz"
	defer os.Remove(archivePath)

	if err := a.forge.DownloadArchive(ctx, url, archivePath); err != nil {
		return err
	}

	if err := os.RemoveAll(destDir); err != nil {
		return fmt.Errorf("failed to clear %s: %w", destDir, err)
	}
	if err := ExtractTarGz(archivePath, destDir); err != nil {
		return fmt.Errorf("failed to extract source archive: %w", err)
	}
	return nil
}

// readManifestVersion reads the NVIDIA_VERSION value from a source tree's
// version manifest.
func readManifestVersion(dir string) (nvver.DriverVersion, error) {
	f, err := os.Open(filepath.Join(dir, manifestFile))
	if err != nil {
		return nvver.DriverVersion{}, errors.ErrSourceInvalid.WithCause(err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, manifestKey) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, manifestKey))
		rest = strings.TrimPrefix(rest, ":=")
		rest = strings.TrimPrefix(rest, "=")
		rest = strings.TrimSpace(rest)
		if rest == "" {
			continue
		}
		v, err := nvver.ParseDriver(rest)
		if err != nil {
			return nvver.DriverVersion{}, errors.ErrSourceInvalid.WithCause(err)
		}
		return v, nil
	}
	if err := scanner.Err(); err != nil {
		return nvver.DriverVersion{}, errors.ErrSourceInvalid.WithCause(err)
	}
	return nvver.DriverVersion{}, errors.ErrSourceInvalid.WithMessagef(
		"%s in %s does not define %s", manifestFile, dir, manifestKey)
}
