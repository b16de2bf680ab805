package pipeline

import (
	"context"

	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/resolve"
)

// ResolveStage determines the kernel and driver versions and locates the
// installed driver package.
type ResolveStage struct{}

// Name returns the stage name
func (s *ResolveStage) Name() string { return "resolve" }

// Validate checks whether this stage can run given the current context
func (s *ResolveStage) Validate(_ context.Context, sc *StageContext) error {
	return nil
}

// Execute runs the stage
func (s *ResolveStage) Execute(_ context.Context, sc *StageContext) error {
	resolver := resolve.New(sc.Config, sc.Forge, sc.Log)
	res, err := resolver.Resolve()
	if err != nil {
		return err
	}
	sc.Resolution = res

	sc.Log.Info("Resolved versions",
		"kernel", res.Kernel.Full,
		"driver", res.Driver.String(),
		"package", res.PackagePath)
	return nil
}
