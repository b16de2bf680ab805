package pipeline

import (
	"context"

	"github.com/unraid-forge/nvp2p/src/common/errors"
	"github.com/unraid-forge/nvp2p/src/common/paths"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/source"
)

// AcquireStage obtains a source tree for the resolved driver version.
type AcquireStage struct{}

// Name returns the stage name
func (s *AcquireStage) Name() string { return "acquire" }

// Validate checks whether this stage can run given the current context
func (s *AcquireStage) Validate(_ context.Context, sc *StageContext) error {
	if sc.Config.SourceDir != "" && !paths.IsDir(sc.Config.SourceDir) {
		return errors.ErrSourceInvalid.WithMessagef(
			"source directory %s does not exist", sc.Config.SourceDir)
	}
	return nil
}

// Execute runs the stage
func (s *AcquireStage) Execute(ctx context.Context, sc *StageContext) error {
	acquirer := source.New(sc.Config, sc.Forge, sc.Log)
	tree, err := acquirer.Acquire(ctx, sc.Resolution.Driver)
	if err != nil {
		return err
	}
	sc.Source = tree

	sc.Log.Info("Source tree acquired",
		"dir", tree.Path, "origin", string(tree.Origin), "patched", tree.HasPatch)
	return nil
}
