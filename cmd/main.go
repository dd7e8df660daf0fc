// Package cmd implements the granary CLI.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/conneroisu/farm/pkg/artifacts"
	"github.com/conneroisu/farm/pkg/config"
	"github.com/conneroisu/farm/pkg/glog"
	"github.com/conneroisu/farm/pkg/orchestrator"
	"github.com/conneroisu/farm/pkg/toolchain"
)

var logger zerolog.Logger

var rootCmd = &cobra.Command{
	Use:   "granary",
	Short: "Hermetic build orchestrator for the farm workspace",
	Long: `granary materializes pinned toolchains, builds the managed and
native packages in the right order and assembles the installable artifacts.
All inputs are pinned; the same inputs produce the same outputs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// optional per-checkout defaults (NODE_ENV, RUST_LOG, ...)
		godotenv.Load()

		level := zerolog.InfoLevel
		if raw := os.Getenv("GRANARY_LOG"); raw != "" {
			parsed, err := zerolog.ParseLevel(raw)
			if err == nil {
				level = parsed
			}
		}

		logger = zerolog.New(NewConsoleWriter()).Level(level)
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		logger.Error().Err(err).Msg("granary failed")
		os.Exit(exitCode(err))
	}
}

// Exit codes distinguish the failure classes so callers can react without
// parsing log output.
func exitCode(err error) int {
	switch {
	case eris.Is(err, toolchain.ErrAmbiguousSpec),
		eris.Is(err, toolchain.ErrNotFound),
		eris.Is(err, toolchain.ErrIntegrity),
		eris.Is(err, toolchain.ErrNetwork):
		return 2
	case eris.Is(err, orchestrator.ErrLockfileDrift),
		eris.Is(err, orchestrator.ErrBuild):
		return 3
	case eris.Is(err, artifacts.ErrMissingArtifact):
		return 4
	case eris.Is(err, orchestrator.ErrWorkspaceLocked):
		return 5
	}
	return 1
}

// commandContext returns a context carrying the logger that is canceled when
// the process is interrupted, so running external tools get shut down instead
// of orphaned.
func commandContext() (context.Context, context.CancelFunc) {
	ctx := glog.WithLogger(context.Background(), &logger)
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// loadProject locates the project root above the working directory and loads
// both configuration surfaces: the granary.star script and the pin manifest.
func loadProject(ctx context.Context, options map[string]string) (*config.Config, *toolchain.Resolver, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, nil, eris.Wrap(err, "failed to determine the working directory")
	}

	root, err := config.FindRoot(wd)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Parse(ctx, root, options)
	if err != nil {
		return nil, nil, err
	}

	manifest, err := toolchain.LoadManifest(filepath.Join(root, config.ManifestFile))
	if err != nil {
		return nil, nil, err
	}

	return cfg, toolchain.NewResolver(manifest, toolchain.DefaultCacheRoot()), nil
}
