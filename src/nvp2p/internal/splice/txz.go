package splice

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// ExtractTxz extracts an xz-compressed tarball into destDir, preserving
// entry modes and symlinks. Package archives carry their content at the
// archive root, so no wrapper stripping happens here.
func ExtractTxz(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open package: %w", err)
	}
	defer f.Close()

	xzr, err := xz.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read xz stream: %w", err)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", destDir, err)
	}

	tr := tar.NewReader(xzr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		rel := strings.Trim(strings.TrimPrefix(hdr.Name, "./"), "/")
		if rel == "" {
			continue
		}

		target := filepath.Join(destDir, rel)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("package entry %q escapes extraction root", rel)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)|0700); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", rel, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("failed to create dir for %s: %w", rel, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", rel, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("failed to extract %s: %w", rel, err)
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("failed to close %s: %w", rel, err)
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("failed to create dir for %s: %w", rel, err)
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("failed to create symlink %s: %w", rel, err)
			}
		}
	}

	return nil
}

// Packager repackages an extracted package tree into an archive. The
// preferred implementation preserves Slackware package metadata; the
// fallback produces a plain compressed archive.
type Packager interface {
	// Name identifies the packaging strategy in logs
	Name() string

	// Pack archives the contents of srcDir into destPath
	Pack(ctx context.Context, srcDir, destPath string) error
}

// SelectPackager probes once for the preferred packaging tool and returns
// the strategy to use for the whole run.
func SelectPackager() Packager {
	if _, err := exec.LookPath("makepkg"); err == nil {
		return &MakepkgPackager{}
	}
	return &TarXZPackager{}
}

// MakepkgPackager shells out to Slackware's makepkg, which keeps package
// metadata (doinst.sh handling, link restoration) intact.
type MakepkgPackager struct{}

// Name identifies the packaging strategy in logs
func (p *MakepkgPackager) Name() string { return "makepkg" }

// Pack archives the contents of srcDir into destPath
func (p *MakepkgPackager) Pack(ctx context.Context, srcDir, destPath string) error {
	abs, err := filepath.Abs(destPath)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "makepkg", "-l", "y", "-c", "n", abs)
	cmd.Dir = srcDir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("makepkg failed: %w\nstderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// TarXZPackager creates a plain tar.xz archive in-process.
type TarXZPackager struct{}

// Name identifies the packaging strategy in logs
func (p *TarXZPackager) Name() string { return "tar+xz" }

// Pack archives the contents of srcDir into destPath
func (p *TarXZPackager) Pack(ctx context.Context, srcDir, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	defer out.Close()

	xzw, err := xz.NewWriter(out)
	if err != nil {
		return fmt.Errorf("failed to create xz stream: %w", err)
	}

	tw := tar.NewWriter(xzw)

	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		var linkTarget string
		if info.Mode()&fs.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(path)
			if err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return err
		}
		hdr.Name = "./" + filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", srcDir, err)
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := xzw.Close(); err != nil {
		return err
	}
	return out.Close()
}
