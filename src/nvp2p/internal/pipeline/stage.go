// Package pipeline sequences the end-to-end run: resolve versions, check
// patch availability, pick a build environment, then acquire sources, build,
// splice, and optionally reload inside that environment.
package pipeline

import (
	"context"

	"github.com/unraid-forge/nvp2p/src/common/logs"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/config"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/forge"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/kbuild"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/resolve"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/source"
)

// Stage defines one step of the pipeline
type Stage interface {
	// Name returns the stage name
	Name() string

	// Validate checks whether this stage can run given the current context
	Validate(ctx context.Context, sc *StageContext) error

	// Execute runs the stage
	Execute(ctx context.Context, sc *StageContext) error
}

// StageContext holds shared state passed through the pipeline
type StageContext struct {
	Config config.Config
	Forge  *forge.Client
	Log    *logs.Logger

	Resolution    resolve.Resolution     // Populated by the resolve stage
	Compatibility *resolve.Compatibility // Populated by the resolve stage when the forge is reachable
	Source        source.Tree            // Populated by the acquire stage
	Modules       kbuild.ModuleSet       // Populated by the build stage
}
