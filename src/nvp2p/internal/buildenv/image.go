package buildenv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/unraid-forge/nvp2p/src/common/errors"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/forge"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/source"
)

// contextPatch is a fixed textual patch applied to the builder image build
// context before building.
type contextPatch struct {
	// file is the path inside the build context, relative to its root
	file string

	// dropContaining removes every line containing one of these markers
	dropContaining []string

	// replace applies literal substring substitutions
	replace map[string]string

	// rewrite replaces the whole file content when non-empty
	rewrite string
}

// contextPatches adapt the upstream builder context for one-shot use:
// the mirror dependency-download step 404s against retired mirrors, the
// elflibs package was renamed upstream and collides with the new name, and
// the stock startup script runs a persistent daemon instead of executing a
// forwarded command.
var contextPatches = []contextPatch{
	{
		file:           "Dockerfile",
		dropContaining: []string{"scripts/download-dependencies.sh"},
		replace: map[string]string{
			"aaa_elflibs": "aaa_libraries",
		},
	},
	{
		file:    "entrypoint.sh",
		rewrite: "#!/bin/bash\nexec \"$@\"\n",
	},
}

// EnsureImage makes sure the builder image exists locally, building it from
// the upstream build context (with the fixed patches applied) if it is not
// already cached.
func (e *ContainerEnvironment) EnsureImage(ctx context.Context) error {
	if e.runtime.ImageExists(ctx, e.cfg.BuilderImage) {
		e.log.Debug("Builder image already present", "image", e.cfg.BuilderImage)
		return nil
	}

	repo, err := forge.ParseRepo(e.cfg.BuilderRepo)
	if err != nil {
		return errors.ErrImageBuildFailed.WithCause(err)
	}

	e.log.Info("Building builder image", "image", e.cfg.BuilderImage, "context", repo.String())

	scratch := filepath.Join(os.TempDir(), "nvp2p-imagectx-"+uuid.NewString())
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return errors.ErrImageBuildFailed.WithCause(err)
	}
	defer os.RemoveAll(scratch)

	archivePath := filepath.Join(scratch, "context.tar.gz")
	url := e.forge.BranchArchiveURL(repo, e.cfg.BuilderRef)
	if err := e.forge.DownloadArchive(ctx, url, archivePath); err != nil {
		return errors.ErrImageBuildFailed.WithCause(err)
	}

	contextDir := filepath.Join(scratch, "context")
	if err := source.ExtractTarGz(archivePath, contextDir); err != nil {
		return errors.ErrImageBuildFailed.WithCause(err)
	}
	_ = os.Remove(archivePath)

	if err := applyContextPatches(contextDir); err != nil {
		return errors.ErrImageBuildFailed.WithCause(err)
	}

	if err := e.runtime.BuildImage(ctx, e.cfg.BuilderImage, contextDir, os.Stderr); err != nil {
		return errors.ErrImageBuildFailed.WithCause(err)
	}

	e.log.Info("Builder image ready", "image", e.cfg.BuilderImage)
	return nil
}

// applyContextPatches applies the fixed patch set to an extracted build
// context. A patch whose target file is absent is skipped; the upstream
// context layout changing underneath us surfaces later as a build failure
// with the runtime's own diagnostics.
func applyContextPatches(contextDir string) error {
	for _, p := range contextPatches {
		path := filepath.Join(contextDir, p.file)
		if p.rewrite != "" {
			if _, err := os.Stat(path); err != nil {
				continue
			}
			if err := os.WriteFile(path, []byte(p.rewrite), 0755); err != nil {
				return fmt.Errorf("failed to rewrite %s: %w", p.file, err)
			}
			continue
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to read %s: %w", p.file, err)
		}

		lines := strings.Split(string(raw), "\n")
		var kept []string
		for _, line := range lines {
			if containsAny(line, p.dropContaining) {
				continue
			}
			for old, new := range p.replace {
				line = strings.ReplaceAll(line, old, new)
			}
			kept = append(kept, line)
		}

		if err := os.WriteFile(path, []byte(strings.Join(kept, "\n")), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", p.file, err)
		}
	}
	return nil
}

func containsAny(line string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}
