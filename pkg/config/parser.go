package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"

	"github.com/conneroisu/farm/pkg/glog"
	"github.com/conneroisu/farm/pkg/phase"
)

type parserCtx struct {
	ctx          context.Context
	cfg          *Config
	optionValues map[string]string
	envOverrides map[string]string
	filepath     string
}

func getCtx(thread *starlark.Thread) *parserCtx {
	return thread.Local("parserCtx").(*parserCtx)
}

func simplifyPath(ctx *parserCtx, path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}

	rel, err := filepath.Rel(ctx.cfg.Root, absPath)
	if err != nil {
		return path
	}
	return "//" + filepath.ToSlash(rel)
}

func scriptInfo(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	glog.Log(ctx.ctx).Info().
		Msgf("%s:%d:%d: %s", simplifyPath(ctx, ctx.filepath), pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

func scriptWarn(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	glog.Log(ctx.ctx).Warn().
		Msgf("%s:%d:%d: %s", simplifyPath(ctx, ctx.filepath), pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

// FindRoot walks up from the given directory until it finds the project
// script and returns the directory containing it.
func FindRoot(wd string) (string, error) {
	path, err := filepath.Abs(wd)
	if err != nil {
		return "", eris.Wrapf(err, "failed to resolve %s", wd)
	}

	for {
		scriptPath := filepath.Join(path, ScriptFile)
		_, err := os.Stat(scriptPath)
		if err == nil {
			return path, nil
		}
		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "failed to check %s", scriptPath)
		}

		parent := filepath.Dir(path)
		if parent == path {
			return "", eris.Errorf("no %s found above %s", ScriptFile, wd)
		}

		path = parent
	}
}

// Parse evaluates the project script at root and returns the resulting
// configuration. options carries key=value overrides from the command line.
func Parse(ctx context.Context, root string, options map[string]string) (*Config, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to resolve project root %s", root)
	}

	cfg := &Config{
		Root:    root,
		Env:     map[string]string{},
		Options: map[string]ScriptOption{},
		Hooks:   phase.HookSet{},
	}

	filename := filepath.Join(root, ScriptFile)
	script, err := os.ReadFile(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", filename)
	}

	threadCtx := &parserCtx{
		ctx:          ctx,
		cfg:          cfg,
		optionValues: options,
		envOverrides: map[string]string{},
		filepath:     filename,
	}

	builtins := starlark.StringDict{
		"OS":           starlark.String(runtime.GOOS),
		"ARCH":         starlark.String(runtime.GOARCH),
		"info":         starlark.NewBuiltin("info", starInfo),
		"warn":         starlark.NewBuiltin("warn", starWarn),
		"error":        starlark.NewBuiltin("error", starError),
		"getenv":       starlark.NewBuiltin("getenv", starGetenv),
		"setenv":       starlark.NewBuiltin("setenv", starSetenv),
		"prepend_path": starlark.NewBuiltin("prepend_path", starPrependPath),
		"option":       starlark.NewBuiltin("option", starOption),
		"toolchain":    starlark.NewBuiltin("toolchain", starToolchain),
		"workspace":    starlark.NewBuiltin("workspace", starWorkspace),
		"hook":         starlark.NewBuiltin("hook", starHook),
		"artifact":     starlark.NewBuiltin("artifact", starArtifact),
		"launcher":     starlark.NewBuiltin("launcher", starLauncher),
		"profile":      starlark.NewBuiltin("profile", starProfile),
	}

	thread := &starlark.Thread{
		Name: "config",
		Print: func(thread *starlark.Thread, msg string) {
			glog.Log(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	thread.SetLocal("parserCtx", threadCtx)

	_, err = starlark.ExecFile(thread, simplifyPath(threadCtx, filename), script, builtins)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, eris.Errorf("failed to evaluate %s:\n%s", simplifyPath(threadCtx, filename), evalError.Backtrace())
		}
		return nil, eris.Wrapf(err, "failed to evaluate %s", filename)
	}

	// script-level setenv/prepend_path become part of the config, never of
	// the granary process itself
	for name, value := range threadCtx.envOverrides {
		cfg.Env[name] = value
	}

	if cfg.Workspace.NativeDir == "" {
		cfg.Workspace.NativeDir = "."
	}

	return cfg, nil
}
