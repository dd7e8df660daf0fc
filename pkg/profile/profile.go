// Package profile builds named, purpose-scoped interactive environments from
// subsets of the project's toolchains.
package profile

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"

	"github.com/conneroisu/farm/pkg/config"
	"github.com/conneroisu/farm/pkg/environ"
	"github.com/conneroisu/farm/pkg/toolchain"
)

// Provider provisions shell profiles independently of the build path.
type Provider struct {
	Config   *config.Config
	Resolver *toolchain.Resolver
}

// builtin returns the implicit profiles that exist even without a profile()
// declaration in the project script: full includes everything, rust-only the
// native side (compilers and utilities), node-only the managed side (runtime
// and its package manager).
func (p *Provider) builtin(name string) (config.Profile, bool) {
	keep := func(kind toolchain.Kind) bool { return true }

	switch name {
	case "full":
	case "rust-only":
		keep = func(kind toolchain.Kind) bool {
			return kind == toolchain.KindCompiler || kind == toolchain.KindUtility
		}
	case "node-only":
		keep = func(kind toolchain.Kind) bool {
			return kind == toolchain.KindRuntime || kind == toolchain.KindPackageManager
		}
	default:
		return config.Profile{}, false
	}

	names := make([]string, 0, len(p.Config.Toolchains))
	for _, spec := range p.Config.Toolchains {
		if keep(spec.Kind) {
			names = append(names, spec.Name)
		}
	}

	return config.Profile{Name: name, Toolchains: names}, true
}

// Names lists all available profiles, declared and built-in.
func (p *Provider) Names() []string {
	seen := map[string]bool{"full": true, "rust-only": true, "node-only": true}
	for _, prof := range p.Config.Profiles {
		seen[prof.Name] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Provision resolves the profile's toolchain subset and materializes its
// environment. Declared profiles shadow the built-in ones of the same name.
func (p *Provider) Provision(ctx context.Context, name string) (*environ.Context, config.Profile, error) {
	prof, ok := p.Config.ProfileByName(name)
	if !ok {
		prof, ok = p.builtin(name)
	}
	if !ok {
		return nil, prof, eris.Errorf("unknown shell profile %s (have: %s)", name, strings.Join(p.Names(), ", "))
	}

	resolved := make([]toolchain.Resolved, 0, len(prof.Toolchains))
	for _, tcName := range prof.Toolchains {
		spec, declared := p.Config.ToolchainSpec(tcName)
		if !declared {
			return nil, prof, eris.Errorf("profile %s references unknown toolchain %s", name, tcName)
		}

		tc, err := p.Resolver.Resolve(ctx, spec)
		if err != nil {
			return nil, prof, err
		}
		resolved = append(resolved, tc)
	}

	return environ.Materialize(resolved, nil, p.Config.Env), prof, nil
}

// Greet prints the session-entry greeting. It is purely diagnostic output and
// never influences the session's success or failure.
func Greet(env *environ.Context, prof config.Profile) {
	if prof.Greeting != "" {
		colorstring.Printf("[blue][bold]==>[default] %s\n", prof.Greeting)
	} else {
		colorstring.Printf("[blue][bold]==>[default] granary shell (%s)\n", prof.Name)
	}

	for _, tc := range env.Toolchains() {
		colorstring.Printf("[green][bold]  ->[reset] %s\n", fmt.Sprintf("%-24s %s", tc.Spec.String(), tc.StorePath))
	}
}
