// Package config parses the granary.star project configuration. The script
// declares toolchain pins, environment variables, phase hooks, artifact rules,
// launchers and shell profiles; the build pipeline itself is fixed and not
// configurable.
package config

import (
	"go.starlark.net/starlark"

	"github.com/conneroisu/farm/pkg/artifacts"
	"github.com/conneroisu/farm/pkg/phase"
	"github.com/conneroisu/farm/pkg/toolchain"
)

// ScriptFile is the configuration file name looked up from the working
// directory towards the filesystem root.
const ScriptFile = "granary.star"

// ManifestFile is the toolchain pin manifest expected next to ScriptFile.
const ManifestFile = "toolchains.yml"

// ScriptOption is a value the script exposes for key=value overrides on the
// command line.
type ScriptOption struct {
	DefaultValue starlark.String
	Help         string
}

func (o ScriptOption) Default() string {
	return o.DefaultValue.GoString()
}

// Profile declares a named interactive environment built from a subset of the
// project's toolchains.
type Profile struct {
	Name       string
	Toolchains []string
	Greeting   string
}

// Workspace points at the language trees inside the project.
type Workspace struct {
	// NativeDir holds the cargo workspace (relative to the project root).
	NativeDir string
	// NodeDirs lists the managed packages built before the native workspace.
	NodeDirs []string
}

// Config is the fully evaluated project configuration. It is built once per
// invocation and never mutated afterwards.
type Config struct {
	Root       string
	Toolchains []toolchain.Spec
	Env        map[string]string
	ExtraPaths []string
	Options    map[string]ScriptOption
	Hooks      phase.HookSet
	Artifacts  []artifacts.Rule
	Launchers  []artifacts.Launcher
	Profiles   []Profile
	Workspace  Workspace
}

// ProfileByName returns the declared profile or false.
func (c *Config) ProfileByName(name string) (Profile, bool) {
	for _, profile := range c.Profiles {
		if profile.Name == name {
			return profile, true
		}
	}
	return Profile{}, false
}

// ToolchainSpec returns the declared spec for the given toolchain name.
func (c *Config) ToolchainSpec(name string) (toolchain.Spec, bool) {
	for _, spec := range c.Toolchains {
		if spec.Name == name {
			return spec, true
		}
	}
	return toolchain.Spec{}, false
}
