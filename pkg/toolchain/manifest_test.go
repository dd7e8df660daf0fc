package toolchain_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/farm/pkg/toolchain"
)

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toolchains.yml")
	err := os.WriteFile(path, []byte(`
vars:
  MIRROR: https://downloads.example.org

toolchains:
  node:
    version: 20.11.1
    kind: runtime
    url: "{MIRROR}/node-v{VERSION}-{OS}-{ARCH}.tar.gz"
    sha256: abc123
    strip: 1
  rust:
    version: 1.76.0
    kind: compiler
    url: "{MIRROR}/rust-{VERSION}.tar.xz"
    sha256: def456
    bin: rustc/bin
    markExec:
      - rustc/bin/rustc
`), 0o644)
	require.NoError(t, err)

	manifest, err := toolchain.LoadManifest(path)
	require.NoError(t, err)

	assert.Len(t, manifest.Toolchains, 2)
	assert.Equal(t, "bin", manifest.Toolchains["node"].BinDir())
	assert.Equal(t, "rustc/bin", manifest.Toolchains["rust"].BinDir())
	assert.Equal(t, []string{"rustc/bin/rustc"}, manifest.Toolchains["rust"].MarkExec)

	entry, err := manifest.Lookup(toolchain.Spec{Name: "node", Version: "20.11.1", Kind: toolchain.KindRuntime})
	require.NoError(t, err)
	assert.Equal(t, "https://downloads.example.org/node-v20.11.1-"+runtime.GOOS+"-"+runtime.GOARCH+".tar.gz", entry.URL)
}

func TestLookupMismatches(t *testing.T) {
	manifest := &toolchain.Manifest{
		Toolchains: map[string]toolchain.Entry{
			"node": {Version: "20.11.1", Kind: toolchain.KindRuntime, URL: "https://example.org/node.tar.gz", Sha256: "abc"},
			"odd":  {Version: "1.0.0", URL: "https://example.org/odd.tar.gz"},
		},
	}

	_, err := manifest.Lookup(toolchain.Spec{Name: "missing", Version: "1.0.0"})
	assert.True(t, eris.Is(err, toolchain.ErrNotFound))

	// the manifest pins a different version than the one requested
	_, err = manifest.Lookup(toolchain.Spec{Name: "node", Version: "21.0.0"})
	assert.True(t, eris.Is(err, toolchain.ErrNotFound))

	// declared kind disagrees with the pinned one
	_, err = manifest.Lookup(toolchain.Spec{Name: "node", Version: "20.11.1", Kind: toolchain.KindCompiler})
	assert.True(t, eris.Is(err, toolchain.ErrNotFound))

	// a pin without a checksum can't be verified
	_, err = manifest.Lookup(toolchain.Spec{Name: "odd", Version: "1.0.0"})
	assert.True(t, eris.Is(err, toolchain.ErrAmbiguousSpec))
}

func TestLookupConditions(t *testing.T) {
	manifest := &toolchain.Manifest{
		Toolchains: map[string]toolchain.Entry{
			"here": {
				Version:   "1.0.0",
				URL:       "https://example.org/here.tar.gz",
				Sha256:    "abc",
				Condition: runtime.GOOS,
			},
			"elsewhere": {
				Version:    "1.0.0",
				URL:        "https://example.org/elsewhere.tar.gz",
				Sha256:     "abc",
				Rejections: runtime.GOOS,
			},
		},
	}

	_, err := manifest.Lookup(toolchain.Spec{Name: "here", Version: "1.0.0"})
	assert.NoError(t, err)

	_, err = manifest.Lookup(toolchain.Spec{Name: "elsewhere", Version: "1.0.0"})
	assert.True(t, eris.Is(err, toolchain.ErrNotFound))
}
