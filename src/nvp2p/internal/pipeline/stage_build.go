package pipeline

import (
	"context"

	"github.com/unraid-forge/nvp2p/src/common/errors"
	"github.com/unraid-forge/nvp2p/src/common/paths"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/kbuild"
)

// BuildStage compiles the kernel modules from the acquired source tree.
type BuildStage struct{}

// Name returns the stage name
func (s *BuildStage) Name() string { return "build" }

// Validate checks whether this stage can run given the current context
func (s *BuildStage) Validate(_ context.Context, sc *StageContext) error {
	if sc.Config.Simulate {
		return nil
	}
	if !paths.IsDir(sc.Source.Path) {
		return errors.ErrSourceInvalid.WithMessagef(
			"acquired source tree %s is missing", sc.Source.Path)
	}
	return nil
}

// Execute runs the stage
func (s *BuildStage) Execute(ctx context.Context, sc *StageContext) error {
	builder := kbuild.New(sc.Config, sc.Log)
	modules, err := builder.Build(ctx, sc.Source.Path, sc.Resolution.Kernel, sc.Resolution.Driver)
	if err != nil {
		return err
	}
	sc.Modules = modules
	return nil
}
