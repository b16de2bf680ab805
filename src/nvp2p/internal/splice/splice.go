// Package splice rewrites the vendor driver package in place: the stock
// kernel modules are swapped for freshly built ones and the package is
// re-archived and re-checksummed without touching anything else inside it.
package splice

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/unraid-forge/nvp2p/src/common/errors"
	"github.com/unraid-forge/nvp2p/src/common/logs"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/config"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/kbuild"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/resolve"
)

// moduleExt is the compiled kernel module file extension.
const moduleExt = ".ko"

// moduleDir returns the module install path inside an extracted package
// tree for the given kernel release.
func moduleDir(root, kernelFull string) string {
	return filepath.Join(root, "lib", "modules", kernelFull, "kernel", "drivers", "video")
}

// Result summarizes a splice: how many packaged modules were replaced and
// which ones had no freshly built counterpart and were kept as-is.
type Result struct {
	Replaced int
	Kept     []string
}

// Splicer grafts built modules into the vendor package.
type Splicer struct {
	cfg      config.Config
	packager Packager
	log      *logs.Logger
}

// New creates a Splicer using the given packaging strategy.
func New(cfg config.Config, packager Packager, logger *logs.Logger) *Splicer {
	return &Splicer{cfg: cfg, packager: packager, log: logger}
}

// Splice extracts the resolved package, replaces every packaged module that
// has a freshly built counterpart, repacks, atomically swaps the archive in
// place, and regenerates the package checksum. Built modules without a
// packaged counterpart are left out with a warning. The original package is
// never modified until the replacement archive is complete.
func (s *Splicer) Splice(ctx context.Context, res resolve.Resolution, modules kbuild.ModuleSet) (Result, error) {
	if s.cfg.Simulate {
		s.log.Info("Simulate: would splice built modules into package",
			"package", res.PackagePath, "modules", len(modules), "packager", s.packager.Name())
		return Result{}, nil
	}

	scratch := filepath.Join(os.TempDir(), "nvp2p-splice-"+uuid.NewString())
	defer os.RemoveAll(scratch)

	s.log.Info("Extracting vendor package", "package", res.PackagePath)
	if err := ExtractTxz(res.PackagePath, scratch); err != nil {
		return Result{}, errors.ErrRepackFailed.WithMessage("failed to extract vendor package").WithCause(err)
	}

	dir := moduleDir(scratch, res.Kernel.Full)
	if _, err := os.Stat(dir); err != nil {
		return Result{}, errors.ErrModuleDirNotFound.WithMessagef(
			"package %s has no module directory for kernel %s",
			filepath.Base(res.PackagePath), res.Kernel.Full)
	}

	result, err := s.replaceModules(ctx, dir, modules)
	if err != nil {
		return Result{}, err
	}

	staged := res.PackagePath + ".new"
	s.log.Info("Repacking package", "packager", s.packager.Name(), "staged", staged)
	if err := s.packager.Pack(ctx, scratch, staged); err != nil {
		_ = os.Remove(staged)
		return Result{}, errors.ErrRepackFailed.WithMessagef(
			"%s failed to repack the package", s.packager.Name()).WithCause(err)
	}

	if err := os.Rename(staged, res.PackagePath); err != nil {
		_ = os.Remove(staged)
		return Result{}, errors.ErrRepackFailed.WithMessage(
			"failed to swap the rebuilt package into place").WithCause(err)
	}

	if err := WriteChecksum(res.PackagePath, res.ChecksumPath); err != nil {
		return Result{}, errors.ErrRepackFailed.WithMessage(
			"failed to regenerate the package checksum").WithCause(err)
	}

	s.log.Info("Package spliced",
		"package", res.PackagePath, "replaced", result.Replaced, "kept", len(result.Kept))
	return result, nil
}

// replaceModules walks the packaged modules and overwrites each one that has
// a freshly built counterpart of the same name, preserving the packaged
// file's mode. Packaged modules without a counterpart are kept unchanged
// with a warning.
func (s *Splicer) replaceModules(ctx context.Context, dir string, modules kbuild.ModuleSet) (Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Result{}, errors.ErrRepackFailed.WithCause(err)
	}

	var result Result
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		name := entry.Name()
		if !entry.Type().IsRegular() || filepath.Ext(name) != moduleExt {
			continue
		}

		built, ok := modules[name]
		if !ok {
			s.log.Warn("Packaged module has no rebuilt counterpart, keeping the original",
				"module", name)
			result.Kept = append(result.Kept, name)
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return Result{}, errors.ErrRepackFailed.WithCause(err)
		}
		if err := copyFile(built, filepath.Join(dir, name), info.Mode()); err != nil {
			return Result{}, errors.ErrRepackFailed.WithMessagef(
				"failed to replace module %s", name).WithCause(err)
		}
		s.log.Debug("Replaced module", "module", name)
		result.Replaced++
	}

	if result.Replaced == 0 {
		s.log.Warn("No packaged module matched a rebuilt one, repacking the package unchanged")
	}
	sort.Strings(result.Kept)
	return result, nil
}

// WriteChecksum writes the md5 manifest for a package in the same
// two-space format md5sum produces.
func WriteChecksum(packagePath, checksumPath string) error {
	f, err := os.Open(packagePath)
	if err != nil {
		return err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}

	line := fmt.Sprintf("%x  %s\n", h.Sum(nil), filepath.Base(packagePath))
	return os.WriteFile(checksumPath, []byte(line), 0644)
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
