package source

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unraid-forge/nvp2p/src/common/errors"
	"github.com/unraid-forge/nvp2p/src/common/logs"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/config"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/forge"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/nvver"
)

func testLogger() *logs.Logger {
	return logs.New(logs.Config{Output: logs.OutputStderr, Level: "error"})
}

func mustDriver(t *testing.T, s string) nvver.DriverVersion {
	t.Helper()
	v, err := nvver.ParseDriver(s)
	require.NoError(t, err)
	return v
}

func writeManifest(t *testing.T, dir, version string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	content := "NVIDIA_VERSION = " + version + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestFile), []byte(content), 0644))
}

// sourceTarball builds a gzipped tarball with a top-level wrapper directory,
// the way forge archive endpoints serve them.
func sourceTarball(t *testing.T, wrapper string, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     wrapper + "/",
		Typeflag: tar.TypeDir,
		Mode:     0755,
	}))
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     wrapper + "/" + name,
			Typeflag: tar.TypeReg,
			Mode:     0644,
			Size:     int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestAcquire_ExplicitDir_MatchingManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "590.48.01")

	cfg := config.Config{SourceDir: dir, WorkRoot: t.TempDir()}
	a := New(cfg, nil, testLogger())

	tree, err := a.Acquire(context.Background(), mustDriver(t, "590.48.01"))
	require.NoError(t, err)
	assert.Equal(t, dir, tree.Path)
	assert.Equal(t, OriginExplicit, tree.Origin)
}

func TestAcquire_ExplicitDir_MismatchedManifestProceeds(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "580.82.07")

	cfg := config.Config{SourceDir: dir, WorkRoot: t.TempDir()}
	a := New(cfg, nil, testLogger())

	// explicit user intent overrides the version mismatch
	tree, err := a.Acquire(context.Background(), mustDriver(t, "590.48.01"))
	require.NoError(t, err)
	assert.Equal(t, dir, tree.Path)
}

func TestAcquire_CacheHit(t *testing.T) {
	work := t.TempDir()
	cfg := config.Config{WorkRoot: work}
	a := New(cfg, nil, testLogger())

	driver := mustDriver(t, "590.48.01")
	writeManifest(t, a.CacheDir(driver), "590.48.01")

	tree, err := a.Acquire(context.Background(), driver)
	require.NoError(t, err)
	assert.Equal(t, OriginCache, tree.Origin)
	assert.Equal(t, a.CacheDir(driver), tree.Path)
}

func TestAcquire_CacheMismatchDownloads(t *testing.T) {
	work := t.TempDir()
	archive := sourceTarball(t, "open-gpu-kernel-modules-590.48.01-p2p", map[string]string{
		"version.mk":           "NVIDIA_VERSION = 590.48.01\n",
		"kernel-open/Makefile": "all:\n",
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "refs/heads/590.48.01-p2p") {
			_, _ = w.Write(archive)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := config.Config{
		WorkRoot:     work,
		PatchedRepo:  "tinygrad/open-gpu-kernel-modules",
		UpstreamRepo: "NVIDIA/open-gpu-kernel-modules",
	}
	a := New(cfg, forge.NewClientWithBase(srv.URL, srv.URL), testLogger())

	driver := mustDriver(t, "590.48.01")
	// stale cache with the wrong manifest gets ignored
	writeManifest(t, a.CacheDir(driver), "580.82.07")

	tree, err := a.Acquire(context.Background(), driver)
	require.NoError(t, err)
	assert.Equal(t, OriginPatched, tree.Origin)
	assert.True(t, tree.HasPatch)

	// wrapper directory stripped, manifest at tree root
	v, err := readManifestVersion(tree.Path)
	require.NoError(t, err)
	assert.True(t, v.Equal(driver))
	assert.FileExists(t, filepath.Join(tree.Path, "kernel-open", "Makefile"))

	// archive removed after extraction
	assert.NoFileExists(t, tree.Path+".tar.gz")
}

func TestAcquire_FailedDownloadLeavesNoPartialArchive(t *testing.T) {
	work := t.TempDir()

	// the archive endpoint dies mid-body: existence probe passes, then the
	// declared length is never delivered
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "refs/heads/590.48.01-p2p") {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodHead {
			return
		}
		w.Header().Set("Content-Length", "4096")
		_, _ = w.Write([]byte("truncated"))
	}))
	defer srv.Close()

	cfg := config.Config{
		WorkRoot:     work,
		PatchedRepo:  "tinygrad/open-gpu-kernel-modules",
		UpstreamRepo: "NVIDIA/open-gpu-kernel-modules",
	}
	a := New(cfg, forge.NewClientWithBase(srv.URL, srv.URL), testLogger())

	driver := mustDriver(t, "590.48.01")
	_, err := a.Acquire(context.Background(), driver)
	require.Error(t, err)

	assert.NoFileExists(t, a.CacheDir(driver)+".tar.gz")
}

func TestAcquire_FallbackToUpstreamTag(t *testing.T) {
	work := t.TempDir()
	archive := sourceTarball(t, "open-gpu-kernel-modules-590.48.01", map[string]string{
		"version.mk": "NVIDIA_VERSION = 590.48.01\n",
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/tinygrad/") {
			http.NotFound(w, r)
			return
		}
		if strings.Contains(r.URL.Path, "refs/tags/590.48.01") {
			_, _ = w.Write(archive)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := config.Config{
		WorkRoot:     work,
		PatchedRepo:  "tinygrad/open-gpu-kernel-modules",
		UpstreamRepo: "NVIDIA/open-gpu-kernel-modules",
	}
	a := New(cfg, forge.NewClientWithBase(srv.URL, srv.URL), testLogger())

	tree, err := a.Acquire(context.Background(), mustDriver(t, "590.48.01"))
	require.NoError(t, err)
	assert.Equal(t, OriginUpstream, tree.Origin)
	assert.False(t, tree.HasPatch)
}

func TestAcquire_NoPatchAvailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cfg := config.Config{
		WorkRoot:     t.TempDir(),
		PatchedRepo:  "tinygrad/open-gpu-kernel-modules",
		UpstreamRepo: "NVIDIA/open-gpu-kernel-modules",
	}
	a := New(cfg, forge.NewClientWithBase(srv.URL, srv.URL), testLogger())

	_, err := a.Acquire(context.Background(), mustDriver(t, "601.00.00"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNoPatchAvailable))
	assert.Equal(t, errors.ExitNoPatch, errors.GetExitCode(err))
}

func TestAcquire_SimulateDoesNotMutate(t *testing.T) {
	work := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("simulate mode made a %s request to %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Config{
		WorkRoot:     work,
		Simulate:     true,
		PatchedRepo:  "tinygrad/open-gpu-kernel-modules",
		UpstreamRepo: "NVIDIA/open-gpu-kernel-modules",
	}
	a := New(cfg, forge.NewClientWithBase(srv.URL, srv.URL), testLogger())

	driver := mustDriver(t, "590.48.01")
	tree, err := a.Acquire(context.Background(), driver)
	require.NoError(t, err)
	assert.Equal(t, OriginPatched, tree.Origin)

	// no filesystem mutation
	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadManifestVersion_Variants(t *testing.T) {
	for _, line := range []string{
		"NVIDIA_VERSION = 590.48.01",
		"NVIDIA_VERSION := 590.48.01",
		"NVIDIA_VERSION=590.48.01",
	} {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, manifestFile), []byte(line+"\n"), 0644))
		v, err := readManifestVersion(dir)
		require.NoError(t, err, line)
		assert.Equal(t, "590.48.01", v.String(), line)
	}
}

func TestReadManifestVersion_Missing(t *testing.T) {
	_, err := readManifestVersion(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSourceInvalid))
}
