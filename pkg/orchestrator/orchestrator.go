// Package orchestrator coordinates the cross-language build: managed-language
// dependencies are installed lockfile-exact, the managed packages are built,
// then the native workspace, and finally the artifacts are collected. The
// order is fixed because the native install step may embed the managed build
// output; it is not configurable.
package orchestrator

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/conneroisu/farm/pkg/artifacts"
	"github.com/conneroisu/farm/pkg/config"
	"github.com/conneroisu/farm/pkg/environ"
	"github.com/conneroisu/farm/pkg/glog"
	"github.com/conneroisu/farm/pkg/phase"
	"github.com/conneroisu/farm/pkg/toolchain"
)

// Orchestrator runs the full build pipeline for one workspace.
type Orchestrator struct {
	Config   *config.Config
	Resolver *toolchain.Resolver

	// Sequencer executes the phases. Its Stdout/Stderr/DryRun knobs are
	// honored by Build.
	Sequencer *phase.Sequencer

	// InstallDir receives the installed layout. Defaults to <root>/dist.
	InstallDir string

	// Command templates for the fixed phases. They exist so tests can
	// substitute harmless commands; the defaults are the real thing.
	NodeInstallCmd string
	NodeBuildCmd   string
	NativeBuildCmd string
}

// New returns an orchestrator with the standard phase commands.
func New(cfg *config.Config, resolver *toolchain.Resolver) *Orchestrator {
	return &Orchestrator{
		Config:         cfg,
		Resolver:       resolver,
		Sequencer:      &phase.Sequencer{},
		InstallDir:     filepath.Join(cfg.Root, "dist"),
		NodeInstallCmd: "npm ci",
		NodeBuildCmd:   "npm run build",
		NativeBuildCmd: "cargo build --release --workspace",
	}
}

// Environment resolves all declared toolchains and materializes the build
// environment. The managed-language runtime mode (NODE_ENV) comes from
// GRANARY_NODE_ENV, falling back to the config and then to production.
func (o *Orchestrator) Environment(ctx context.Context) (*environ.Context, error) {
	resolved := make([]toolchain.Resolved, 0, len(o.Config.Toolchains))
	for _, spec := range o.Config.Toolchains {
		tc, err := o.Resolver.Resolve(ctx, spec)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, tc)
	}

	vars := make(map[string]string, len(o.Config.Env)+1)
	for k, v := range o.Config.Env {
		vars[k] = v
	}

	if mode := os.Getenv("GRANARY_NODE_ENV"); mode != "" {
		vars["NODE_ENV"] = mode
	} else if _, set := vars["NODE_ENV"]; !set {
		vars["NODE_ENV"] = "production"
	}

	extras := make([]environ.PathEntry, 0, len(o.Config.ExtraPaths))
	for _, dir := range o.Config.ExtraPaths {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(o.Config.Root, dir)
		}
		extras = append(extras, environ.PathEntry(dir))
	}

	return environ.Materialize(resolved, extras, vars), nil
}

func (o *Orchestrator) phases() []phase.Phase {
	cfg := o.Config
	result := make([]phase.Phase, 0, len(cfg.Workspace.NodeDirs)*2+1)
	ordinal := 0

	add := func(name, dir, body string) {
		result = append(result, phase.Phase{
			Name:    name,
			Ordinal: ordinal,
			Dir:     dir,
			Body:    body,
			Hooks:   cfg.Hooks[name],
		})
		ordinal++
	}

	// The managed packages build before the native workspace because the
	// native install step may embed their output.
	for _, dir := range cfg.Workspace.NodeDirs {
		add(phase.NodeInstall, filepath.Join(cfg.Root, dir), o.NodeInstallCmd)
	}
	for _, dir := range cfg.Workspace.NodeDirs {
		add(phase.NodeBuild, filepath.Join(cfg.Root, dir), o.NodeBuildCmd)
	}
	add(phase.NativeBuild, filepath.Join(cfg.Root, cfg.Workspace.NativeDir), o.NativeBuildCmd)

	return result
}

// Build runs the whole pipeline and returns the installed layout. Any failure
// aborts the remaining steps; no partial artifact set is reported as success.
func (o *Orchestrator) Build(ctx context.Context) (*artifacts.Layout, error) {
	lock, err := acquireWorkspaceLock(o.Config.Root)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	// drift is detected before any compiler or package manager runs
	for _, dir := range o.Config.Workspace.NodeDirs {
		err = verifyLockfile(filepath.Join(o.Config.Root, dir))
		if err != nil {
			return nil, err
		}
	}

	env, err := o.Environment(ctx)
	if err != nil {
		return nil, err
	}

	err = o.Sequencer.Run(ctx, o.phases(), env)
	if err != nil {
		status := o.Sequencer.Status()
		return nil, eris.Wrapf(ErrBuild, "phase %s: %v", status.Phase, err)
	}

	if o.Sequencer.DryRun {
		glog.Log(ctx).Info().Msg("dry run, skipping install")
		return &artifacts.Layout{Root: o.InstallDir}, nil
	}

	layout, err := artifacts.Install(ctx, o.Config.Root, o.InstallDir, o.Config.Artifacts, o.Config.Launchers)
	if err != nil {
		return layout, err
	}

	glog.Log(ctx).Info().
		Int("artifacts", len(layout.Installed)).
		Str("dest", o.InstallDir).
		Msg("install finished")
	return layout, nil
}
