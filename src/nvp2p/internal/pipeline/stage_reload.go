package pipeline

import (
	"context"

	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/reload"
)

// ReloadStage swaps the running driver for the spliced one. Opt-in, and
// never fails the pipeline: the package on disk is already patched.
type ReloadStage struct{}

// Name returns the stage name
func (s *ReloadStage) Name() string { return "reload" }

// Validate checks whether this stage can run given the current context
func (s *ReloadStage) Validate(_ context.Context, sc *StageContext) error {
	return nil
}

// Execute runs the stage
func (s *ReloadStage) Execute(ctx context.Context, sc *StageContext) error {
	if !sc.Config.Reload {
		sc.Log.Debug("Live reload not requested, skipping")
		return nil
	}
	reload.New(sc.Config, sc.Log).Reload(ctx, sc.Resolution.PackagePath)
	return nil
}
