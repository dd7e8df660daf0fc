package toolchain

import (
	"os"
	"regexp"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Kind describes what role a toolchain plays in the build.
type Kind string

const (
	KindCompiler       Kind = "compiler"
	KindPackageManager Kind = "package-manager"
	KindRuntime        Kind = "runtime"
	KindUtility        Kind = "utility"
)

// Spec identifies a single pinned toolchain. Specs are declared in the project
// configuration and stay immutable once resolved.
type Spec struct {
	Name    string
	Version string
	Kind    Kind
}

func (s Spec) String() string {
	return s.Name + "@" + s.Version
}

// Validate checks that the spec only contains a deterministic, exact version.
// Anything that looks like a range or wildcard is rejected because it could
// resolve to different content on different days.
func (s Spec) Validate() error {
	if s.Name == "" {
		return eris.Wrap(ErrAmbiguousSpec, "spec has no name")
	}

	if s.Version == "" || strings.ContainsAny(s.Version, "^~*<>=| ") {
		return eris.Wrapf(ErrAmbiguousSpec, "version %q of %s is not an exact pin", s.Version, s.Name)
	}

	if _, err := semver.StrictNewVersion(s.Version); err != nil {
		return eris.Wrapf(ErrAmbiguousSpec, "version %q of %s is not an exact semver version", s.Version, s.Name)
	}

	return nil
}

// Entry describes where a pinned toolchain artifact comes from and how to
// unpack it. The URL may contain {OS}, {ARCH} and {VERSION} placeholders in
// addition to the manifest's own vars.
type Entry struct {
	Version    string   `yaml:"version"`
	Kind       Kind     `yaml:"kind"`
	URL        string   `yaml:"url"`
	Sha256     string   `yaml:"sha256"`
	Strip      int      `yaml:"strip,omitempty"`
	Bin        string   `yaml:"bin,omitempty"`
	MarkExec   []string `yaml:"markExec,omitempty"`
	Condition  string   `yaml:"if,omitempty"`
	Rejections string   `yaml:"ifNot,omitempty"`
}

// BinDir returns the relative directory inside the unpacked artifact that
// holds the executable entry points.
func (e Entry) BinDir() string {
	if e.Bin == "" {
		return "bin"
	}
	return e.Bin
}

// Manifest is the pin file (toolchains.yml). It owns the exact versions,
// download locations and checksums for every toolchain the project uses.
type Manifest struct {
	Vars       map[string]string `yaml:"vars,omitempty"`
	Toolchains map[string]Entry  `yaml:"toolchains"`
}

// LoadManifest reads and parses the given pin manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "could not open manifest %s", path)
	}

	var manifest Manifest
	err = yaml.Unmarshal(data, &manifest)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse manifest %s", path)
	}

	return &manifest, nil
}

var varMatcher = regexp.MustCompile(`\{([A-Z0-9_]+)\}`)

func (m *Manifest) platformVars(spec Spec) map[string]string {
	vars := map[string]string{
		"OS":      runtime.GOOS,
		"ARCH":    runtime.GOARCH,
		"VERSION": spec.Version,
	}
	for k, v := range m.Vars {
		vars[k] = v
	}

	// truthy markers for condition checks
	vars[runtime.GOOS] = "true"
	vars[runtime.GOARCH] = "true"
	if os.Getenv("CI") == "true" {
		vars["ci"] = "true"
	}

	return vars
}

func evalConditions(entry Entry, vars map[string]string) bool {
	for _, condition := range strings.Split(entry.Condition, ",") {
		if condition == "" {
			continue
		}

		value, ok := vars[strings.TrimSpace(condition)]
		if !ok || value == "" {
			return false
		}
	}

	for _, condition := range strings.Split(entry.Rejections, ",") {
		if condition == "" {
			continue
		}

		value, ok := vars[strings.TrimSpace(condition)]
		if ok && value != "" {
			return false
		}
	}
	return true
}

// Lookup finds the manifest entry matching the given spec and expands the URL
// placeholders. The entry's version has to match the spec exactly; a manifest
// that pins a different version than the one declared is treated as "no
// matching artifact" rather than silently re-pinned.
func (m *Manifest) Lookup(spec Spec) (Entry, error) {
	entry, ok := m.Toolchains[spec.Name]
	if !ok {
		return entry, eris.Wrapf(ErrNotFound, "manifest has no entry for %s", spec.Name)
	}

	if entry.Version != spec.Version {
		return entry, eris.Wrapf(ErrNotFound, "manifest pins %s@%s but %s was requested",
			spec.Name, entry.Version, spec)
	}

	if spec.Kind != "" && entry.Kind != "" && spec.Kind != entry.Kind {
		return entry, eris.Wrapf(ErrNotFound, "manifest entry for %s is a %s, not a %s",
			spec.Name, entry.Kind, spec.Kind)
	}

	vars := m.platformVars(spec)
	if !evalConditions(entry, vars) {
		return entry, eris.Wrapf(ErrNotFound, "%s is not available on %s/%s", spec, runtime.GOOS, runtime.GOARCH)
	}

	entry.URL = varMatcher.ReplaceAllStringFunc(entry.URL, func(varName string) string {
		return vars[varName[1:len(varName)-1]]
	})

	if entry.Sha256 == "" {
		return entry, eris.Wrapf(ErrAmbiguousSpec, "manifest entry for %s has no checksum", spec.Name)
	}

	return entry, nil
}
