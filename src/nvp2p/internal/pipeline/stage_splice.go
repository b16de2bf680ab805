package pipeline

import (
	"context"

	"github.com/unraid-forge/nvp2p/src/common/errors"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/splice"
)

// SpliceStage grafts the built modules into the installed driver package.
type SpliceStage struct{}

// Name returns the stage name
func (s *SpliceStage) Name() string { return "splice" }

// Validate checks whether this stage can run given the current context
func (s *SpliceStage) Validate(_ context.Context, sc *StageContext) error {
	if !sc.Config.Simulate && len(sc.Modules) == 0 {
		return errors.ErrNoArtifacts.WithMessage("no built modules to splice")
	}
	return nil
}

// Execute runs the stage
func (s *SpliceStage) Execute(ctx context.Context, sc *StageContext) error {
	packager := splice.SelectPackager()
	splicer := splice.New(sc.Config, packager, sc.Log)
	_, err := splicer.Splice(ctx, sc.Resolution, sc.Modules)
	return err
}
