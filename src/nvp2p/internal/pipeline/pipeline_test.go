package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unraid-forge/nvp2p/src/common/errors"
	"github.com/unraid-forge/nvp2p/src/common/logs"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/config"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/forge"
)

const testKernel = "6.12.54-Unraid"

// installPackage lays out <root>/<short-kernel>/nvidia-<driver>.txz the way
// the driver plugin does.
func installPackage(t *testing.T, root, driver string) {
	t.Helper()
	dir := filepath.Join(root, "6.12.54")
	require.NoError(t, os.MkdirAll(dir, 0755))
	name := fmt.Sprintf("nvidia-%s-%s-1.txz", driver, testKernel)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("txz"), 0644))
}

// branchServer serves a single-page branch listing.
func branchServer(t *testing.T, branches ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			_ = json.NewEncoder(w).Encode([]map[string]string{})
			return
		}
		var payload []map[string]string
		for _, b := range branches {
			payload = append(payload, map[string]string{"name": b})
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func checkConfig(root string) config.Config {
	cfg := config.Config{}
	cfg.KernelVersion = testKernel
	cfg.PackagesRoot = root
	cfg.CheckOnly = true
	cfg.PatchedRepo = "tinygrad/open-gpu-kernel-modules"
	return cfg
}

func TestCheckMode_Compatible(t *testing.T) {
	root := t.TempDir()
	installPackage(t, root, "590.48.01")
	srv := branchServer(t, "main", "565.57.01-p2p", "590.48.01-p2p")

	p := New(checkConfig(root), forge.NewClientWithBase(srv.URL, srv.URL), logs.NewDefault())
	require.NoError(t, p.Run(context.Background()))
}

func TestCheckMode_NotCompatible(t *testing.T) {
	root := t.TempDir()
	installPackage(t, root, "601.00.00")
	srv := branchServer(t, "main", "565.57.01-p2p", "590.48.01-p2p")

	// an incompatible version is an informational outcome, not an error
	p := New(checkConfig(root), forge.NewClientWithBase(srv.URL, srv.URL), logs.NewDefault())
	require.NoError(t, p.Run(context.Background()))
}

func TestCheckMode_ForgeUnreachable(t *testing.T) {
	root := t.TempDir()
	installPackage(t, root, "590.48.01")
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	p := New(checkConfig(root), forge.NewClientWithBase(srv.URL, srv.URL), logs.NewDefault())
	err := p.Run(context.Background())
	require.ErrorIs(t, err, errors.ErrForgeUnreachable)
}

func TestRun_MissingPackageDir(t *testing.T) {
	cfg := config.Config{}
	cfg.KernelVersion = testKernel
	cfg.PackagesRoot = filepath.Join(t.TempDir(), "nope")

	p := New(cfg, forge.NewClient(), logs.NewDefault())
	err := p.Run(context.Background())
	require.ErrorIs(t, err, errors.ErrPackageDirNotFound)
	assert.Equal(t, errors.ExitDiscovery, errors.GetExitCode(err))
}

// failValidate is a stage whose precondition never holds.
type failValidate struct{ executed bool }

func (s *failValidate) Name() string { return "fail-validate" }
func (s *failValidate) Validate(context.Context, *StageContext) error {
	return errors.ErrSourceInvalid
}
func (s *failValidate) Execute(context.Context, *StageContext) error {
	s.executed = true
	return nil
}

func TestRunStage_ValidateFailureStopsExecution(t *testing.T) {
	p := New(config.Config{}, forge.NewClient(), logs.NewDefault())
	stage := &failValidate{}

	err := p.runStage(context.Background(), stage, &StageContext{Log: logs.NewDefault()})
	require.ErrorIs(t, err, errors.ErrSourceInvalid)
	assert.False(t, stage.executed)
}

func TestRunStage_CancelledContext(t *testing.T) {
	p := New(config.Config{}, forge.NewClient(), logs.NewDefault())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.runStage(ctx, &failValidate{}, &StageContext{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestBuildStageOrder(t *testing.T) {
	var names []string
	for _, s := range buildStages() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"acquire", "build", "splice", "reload"}, names)
}
