package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/unraid-forge/nvp2p/src/common/cli"
	"github.com/unraid-forge/nvp2p/src/common/errors"
	"github.com/unraid-forge/nvp2p/src/common/logs"
	"github.com/unraid-forge/nvp2p/src/common/version"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/buildenv"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/config"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/forge"
	"github.com/unraid-forge/nvp2p/src/nvp2p/internal/pipeline"
)

var (
	// VersionInfo holds version information - set at build time via ldflags
	VersionInfo = version.New()

	// Configuration file path
	cfgFile string

	logger *logs.Logger
)

// Linker variables - set via ldflags at build time
var (
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "nvp2p",
	Short: "Patch the Unraid nvidia driver package with p2p-enabled kernel modules",
	Long: `nvp2p rebuilds the nvidia open kernel modules from a peer-to-peer
patched source branch and splices them into the driver package installed by
the nvidia-driver plugin. When the host has no compiler toolchain, the build
runs inside a managed builder container and the result is spliced just the
same.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	RunE: run,
}

// Execute runs the root command. A run delegated into the build container
// exits with the inner exit code verbatim.
func Execute() {
	VersionInfo.Version = Version
	VersionInfo.BuildDate = BuildDate
	VersionInfo.GitCommit = GitCommit

	if err := rootCmd.Execute(); err != nil {
		var delegated *buildenv.DelegatedExit
		if errors.As(err, &delegated) {
			os.Exit(delegated.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errors.GetExitCode(err))
	}
}

func init() {
	cli.RegisterConfigFlag(rootCmd, &cfgFile, "/boot/config/plugins/nvidia-driver/nvp2p.yaml")
	cli.RegisterLogFlags(rootCmd)

	rootCmd.Flags().String("kernel", "", "Kernel version override (default: running kernel)")
	rootCmd.Flags().String("driver", "", "Driver version override (default: from package filename)")
	rootCmd.Flags().StringP("source", "s", "", "Explicit driver source directory")
	rootCmd.Flags().String("packages-root", "", fmt.Sprintf("Driver plugin packages directory (default: %s)", config.DefaultPackagesRoot))
	rootCmd.Flags().String("work-root", "", "Working directory for sources, logs, and scratch space (default: current directory)")
	rootCmd.Flags().BoolP("check", "c", false, "Only check whether a patched branch exists for the driver version")
	rootCmd.Flags().BoolP("simulate", "n", false, "Report every decision without mutating anything")
	rootCmd.Flags().BoolP("reload", "r", false, "Unload and reload the live driver modules after patching")
	rootCmd.Flags().Bool("in-build-env", false, "Internal: the run is already inside the build container")
	_ = rootCmd.Flags().MarkHidden("in-build-env")

	_ = cli.BindFlag(rootCmd, "kernel", "kernel.version")
	_ = cli.BindFlag(rootCmd, "driver", "driver.version")
	_ = cli.BindFlag(rootCmd, "source", "source.dir")
	_ = cli.BindFlag(rootCmd, "packages-root", "packages.root")
	_ = cli.BindFlag(rootCmd, "work-root", "work.root")
	_ = cli.BindFlag(rootCmd, "check", "mode.check")
	_ = cli.BindFlag(rootCmd, "simulate", "mode.simulate")
	_ = cli.BindFlag(rootCmd, "reload", "mode.reload")
	_ = cli.BindFlag(rootCmd, "in-build-env", "mode.in_build_env")

	config.SetDefaults()

	rootCmd.AddCommand(versionCmd)
}

// initConfig loads the config file and environment, then builds the logger.
func initConfig() error {
	if err := cli.InitConfig(cli.ConfigOptions{
		ConfigFile: cfgFile,
		ConfigName: "nvp2p",
		ConfigType: "yaml",
		EnvPrefix:  "NVP2P",
		SearchPaths: []string{
			"/boot/config/plugins/nvidia-driver",
			"$HOME/.config/nvp2p",
			".",
		},
	}); err != nil {
		return err
	}

	logger = cli.InitLogger("nvp2p")
	forge.SetLogger(logger)
	return nil
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.FromViper(os.Args[1:])

	if cfg.InBuildEnv {
		logger.Debug("Running inside the build container")
	}

	p := pipeline.New(cfg, forge.NewClient(), logger)
	return p.Run(ctx)
}
