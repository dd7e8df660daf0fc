// Package environ composes resolved toolchains into process environments.
// Materialization is pure; applying the result to an actual process is the
// caller's job.
package environ

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/conneroisu/farm/pkg/toolchain"
)

// PathEntry is an extra directory that should be appended to the composed
// executable search path, after all toolchain entries.
type PathEntry string

// Context is an immutable snapshot of the environment for one invocation.
// Build a new one instead of patching an existing one.
type Context struct {
	toolchains []toolchain.Resolved
	extraPaths []PathEntry
	vars       map[string]string
}

// Materialize layers the given toolchains into a Context. Earlier toolchains
// take precedence on executable name collisions (their bin directories come
// first on PATH).
func Materialize(toolchains []toolchain.Resolved, extras []PathEntry, vars map[string]string) *Context {
	varsCopy := make(map[string]string, len(vars))
	for k, v := range vars {
		varsCopy[k] = v
	}

	return &Context{
		toolchains: append([]toolchain.Resolved(nil), toolchains...),
		extraPaths: append([]PathEntry(nil), extras...),
		vars:       varsCopy,
	}
}

// Toolchains returns the layered toolchains in precedence order.
func (c *Context) Toolchains() []toolchain.Resolved {
	return append([]toolchain.Resolved(nil), c.toolchains...)
}

// Var returns an explicitly set variable.
func (c *Context) Var(name string) string {
	return c.vars[name]
}

// SearchPath returns the composed executable search path, highest precedence
// first, without the inherited PATH tail.
func (c *Context) SearchPath() []string {
	dirs := make([]string, 0, len(c.toolchains)+len(c.extraPaths))
	for _, tc := range c.toolchains {
		dirs = append(dirs, tc.BinDir)
	}
	for _, extra := range c.extraPaths {
		dirs = append(dirs, string(extra))
	}
	return dirs
}

// LookupExecutable resolves a name against the composed search path only,
// first match wins. The inherited PATH is deliberately not consulted.
func (c *Context) LookupExecutable(name string) (string, bool) {
	for _, dir := range c.SearchPath() {
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			return candidate, true
		}
	}
	return "", false
}

func (c *Context) libDirs() []string {
	dirs := make([]string, 0, len(c.toolchains))
	for _, tc := range c.toolchains {
		libDir := filepath.Join(tc.StorePath, "lib")
		if info, err := os.Stat(libDir); err == nil && info.IsDir() {
			dirs = append(dirs, libDir)
		}
	}
	return dirs
}

func (c *Context) includeDirs() []string {
	dirs := make([]string, 0, len(c.toolchains))
	for _, tc := range c.toolchains {
		incDir := filepath.Join(tc.StorePath, "include")
		if info, err := os.Stat(incDir); err == nil && info.IsDir() {
			dirs = append(dirs, incDir)
		}
	}
	return dirs
}

func prependList(dirs []string, existing string) string {
	parts := append([]string(nil), dirs...)
	if existing != "" {
		parts = append(parts, existing)
	}
	return strings.Join(parts, string(os.PathListSeparator))
}

// Environ renders the context on top of the given base environment (usually
// os.Environ()). Explicit vars override inherited entries first; toolchain
// search paths, library and include paths are then prepended on top, so a
// PATH override can replace the inherited tail but never drop the composed
// toolchain directories.
func (c *Context) Environ(base []string) []string {
	inherited := make(map[string]string, len(base))
	order := make([]string, 0, len(base))
	for _, item := range base {
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := parts[0]
		if runtime.GOOS == "windows" {
			key = strings.ToUpper(key)
		}

		if _, seen := inherited[key]; !seen {
			order = append(order, key)
		}
		inherited[key] = parts[1]
	}

	set := func(key, value string) {
		if _, seen := inherited[key]; !seen {
			order = append(order, key)
		}
		inherited[key] = value
	}

	varNames := make([]string, 0, len(c.vars))
	for name := range c.vars {
		varNames = append(varNames, name)
	}
	sort.Strings(varNames)
	for _, name := range varNames {
		set(name, c.vars[name])
	}

	if searchPath := c.SearchPath(); len(searchPath) > 0 {
		set("PATH", prependList(searchPath, inherited["PATH"]))
	}

	if libDirs := c.libDirs(); len(libDirs) > 0 {
		set("LD_LIBRARY_PATH", prependList(libDirs, inherited["LD_LIBRARY_PATH"]))
		set("LIBRARY_PATH", prependList(libDirs, inherited["LIBRARY_PATH"]))

		pkgConfigDirs := make([]string, 0, len(libDirs))
		for _, dir := range libDirs {
			pcDir := filepath.Join(dir, "pkgconfig")
			if info, err := os.Stat(pcDir); err == nil && info.IsDir() {
				pkgConfigDirs = append(pkgConfigDirs, pcDir)
			}
		}
		if len(pkgConfigDirs) > 0 {
			set("PKG_CONFIG_PATH", prependList(pkgConfigDirs, inherited["PKG_CONFIG_PATH"]))
		}
	}

	if incDirs := c.includeDirs(); len(incDirs) > 0 {
		set("CPATH", prependList(incDirs, inherited["CPATH"]))
	}

	result := make([]string, 0, len(order))
	for _, key := range order {
		result = append(result, fmt.Sprintf("%s=%s", key, inherited[key]))
	}
	return result
}
