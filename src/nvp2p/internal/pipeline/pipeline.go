package pipeline

import (
	"context"
	"fmt"

	"github.com/unraid-forge/nvp2p/src/common/logs"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/buildenv"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/config"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/forge"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/resolve"
)

// Pipeline runs the end-to-end patching sequence.
type Pipeline struct {
	cfg   config.Config
	forge *forge.Client
	log   *logs.Logger
}

// New creates a Pipeline.
func New(cfg config.Config, client *forge.Client, logger *logs.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, forge: client, log: logger}
}

// buildStages are the stages that run inside the selected build environment.
func buildStages() []Stage {
	return []Stage{
		&AcquireStage{},
		&BuildStage{},
		&SpliceStage{},
		&ReloadStage{},
	}
}

// Run executes the pipeline. In check mode it stops after reporting patch
// availability. Otherwise it selects a build environment and runs the
// remaining stages inside it; when that environment is a container, the
// returned error is a *buildenv.DelegatedExit carrying the inner exit code.
func (p *Pipeline) Run(ctx context.Context) error {
	sc := &StageContext{Config: p.cfg, Forge: p.forge, Log: p.log}

	if err := p.runStage(ctx, &ResolveStage{}, sc); err != nil {
		return err
	}

	if p.cfg.CheckOnly {
		return p.check(ctx, sc)
	}

	env, err := buildenv.Select(p.cfg, p.forge, p.log)
	if err != nil {
		return err
	}
	p.log.Debug("Build environment selected", "environment", env.Name())

	return env.Run(ctx, func(ctx context.Context) error {
		for _, stage := range buildStages() {
			if err := p.runStage(ctx, stage, sc); err != nil {
				return err
			}
		}
		return nil
	})
}

// runStage validates then executes a single stage.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, sc *StageContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := stage.Validate(ctx, sc); err != nil {
		return err
	}
	p.log.Debug("Running stage", "stage", stage.Name())
	return stage.Execute(ctx, sc)
}

// check reports whether a patched branch exists for the resolved driver
// version. The report itself is informational: an incompatible version is
// not an error, only an unreachable forge is.
func (p *Pipeline) check(ctx context.Context, sc *StageContext) error {
	resolver := resolve.New(p.cfg, p.forge, p.log)
	compat, err := resolver.CheckCompatibility(ctx, sc.Resolution.Driver)
	if err != nil {
		return err
	}
	sc.Compatibility = &compat

	if compat.Compatible {
		fmt.Printf("COMPATIBLE: a patched branch exists for driver %s\n", sc.Resolution.Driver)
		return nil
	}

	fmt.Printf("NOT COMPATIBLE: no patched branch for driver %s\n", sc.Resolution.Driver)
	if len(compat.Available) > 0 {
		fmt.Printf("newest patched driver version: %s\n", compat.Latest)
	}
	return nil
}
