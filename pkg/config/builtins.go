package config

import (
	"os"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"

	"github.com/conneroisu/farm/pkg/artifacts"
	"github.com/conneroisu/farm/pkg/phase"
	"github.com/conneroisu/farm/pkg/toolchain"
)

type starlarkIterable interface {
	Len() int
	Iterate() starlark.Iterator
}

func iterableToStringSlice(input starlarkIterable, field string) ([]string, error) {
	if input == nil {
		return []string{}, nil
	}
	if value, ok := input.(*starlark.List); ok && value == nil {
		return []string{}, nil
	}

	result := make([]string, 0, input.Len())
	iter := input.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		switch value := item.(type) {
		case starlark.String:
			result = append(result, value.GoString())
		default:
			return nil, eris.Errorf("expected all items in %s to be strings but found %s", field, item.Type())
		}
	}
	return result, nil
}

func starInfo(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	scriptInfo(thread, "%s", message)
	return starlark.None, nil
}

func starWarn(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	scriptWarn(thread, "%s", message)
	return starlark.None, nil
}

func starError(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	return nil, eris.New(message)
}

func starGetenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &key)
	if err != nil {
		return nil, err
	}

	envOverrides := getCtx(thread).envOverrides
	value, ok := envOverrides[key]
	if !ok {
		value = os.Getenv(key)
	}

	return starlark.String(value), nil
}

func starSetenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var value string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &key, &value)
	if err != nil {
		return nil, err
	}

	getCtx(thread).envOverrides[key] = value
	return starlark.True, nil
}

func starPrependPath(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pathDir string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &pathDir)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	ctx.cfg.ExtraPaths = append(ctx.cfg.ExtraPaths, pathDir)
	return starlark.None, nil
}

func starOption(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue starlark.String
	var help string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue, "help?", &help)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	ctx.cfg.Options[name] = ScriptOption{
		DefaultValue: defaultValue,
		Help:         help,
	}

	value, ok := ctx.optionValues[name]
	if ok {
		return starlark.String(value), nil
	}

	return defaultValue, nil
}

func starToolchain(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var version string
	var kind string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "version", &version, "kind?", &kind)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if _, exists := ctx.cfg.ToolchainSpec(name); exists {
		return nil, eris.Errorf("toolchain %s was already declared", name)
	}

	ctx.cfg.Toolchains = append(ctx.cfg.Toolchains, toolchain.Spec{
		Name:    name,
		Version: version,
		Kind:    toolchain.Kind(kind),
	})
	return starlark.None, nil
}

func starWorkspace(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var native string
	var node starlark.Value

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "native?", &native, "node?", &node)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	ctx.cfg.Workspace.NativeDir = native

	if node != nil {
		iterable, ok := node.(starlarkIterable)
		if !ok {
			return nil, eris.Errorf("expected a list for node but got %s", node.Type())
		}

		ctx.cfg.Workspace.NodeDirs, err = iterableToStringSlice(iterable, "node")
		if err != nil {
			return nil, err
		}
	}

	return starlark.None, nil
}

func starHook(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var phaseName string
	var pre string
	var post string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "phase", &phaseName, "pre?", &pre, "post?", &post)
	if err != nil {
		return nil, err
	}

	switch phaseName {
	case phase.NodeInstall, phase.NodeBuild, phase.NativeBuild:
	default:
		return nil, eris.Errorf("unknown phase %s (have: %s, %s, %s)",
			phaseName, phase.NodeInstall, phase.NodeBuild, phase.NativeBuild)
	}

	ctx := getCtx(thread)
	if _, exists := ctx.cfg.Hooks[phaseName]; exists {
		return nil, eris.Errorf("hooks for phase %s were already declared", phaseName)
	}

	ctx.cfg.Hooks[phaseName] = phase.Hook{Pre: pre, Post: post}
	return starlark.None, nil
}

func starArtifact(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	rule := artifacts.Rule{}

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "pattern", &rule.Pattern, "dest", &rule.Dest,
		"exec?", &rule.Exec, "mandatory?", &rule.Mandatory)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	ctx.cfg.Artifacts = append(ctx.cfg.Artifacts, rule)
	return starlark.None, nil
}

func starLauncher(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	launcher := artifacts.Launcher{}

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &launcher.Name,
		"interpreter", &launcher.Interpreter, "entry", &launcher.Entry)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	ctx.cfg.Launchers = append(ctx.cfg.Launchers, launcher)
	return starlark.None, nil
}

func starProfile(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var toolchains starlark.Value
	var greeting string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "toolchains", &toolchains, "greeting?", &greeting)
	if err != nil {
		return nil, err
	}

	iterable, ok := toolchains.(starlarkIterable)
	if !ok {
		return nil, eris.Errorf("expected a list for toolchains but got %s", toolchains.Type())
	}

	names, err := iterableToStringSlice(iterable, "toolchains")
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if _, exists := ctx.cfg.ProfileByName(name); exists {
		return nil, eris.Errorf("profile %s was already declared", name)
	}

	for _, tcName := range names {
		if _, declared := ctx.cfg.ToolchainSpec(tcName); !declared {
			return nil, eris.Errorf("profile %s references unknown toolchain %s", name, tcName)
		}
	}

	ctx.cfg.Profiles = append(ctx.cfg.Profiles, Profile{
		Name:       name,
		Toolchains: names,
		Greeting:   greeting,
	})
	return starlark.None, nil
}
