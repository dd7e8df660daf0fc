package profile_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/farm/pkg/config"
	"github.com/conneroisu/farm/pkg/profile"
	"github.com/conneroisu/farm/pkg/toolchain"
)

func toolchainArchive(t *testing.T, executable string) ([]byte, string) {
	t.Helper()

	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	tw := tar.NewWriter(gz)

	content := "#!/bin/sh\n"
	err := tw.WriteHeader(&tar.Header{
		Name:     "bin/" + executable,
		Mode:     0o755,
		Size:     int64(len(content)),
		Typeflag: tar.TypeReg,
	})
	require.NoError(t, err)
	_, err = tw.Write([]byte(content))
	require.NoError(t, err)

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	sum := sha256.Sum256(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(sum[:])
}

func testProvider(t *testing.T) *profile.Provider {
	t.Helper()

	archives := map[string][]byte{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := archives[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(server.Close)

	manifest := &toolchain.Manifest{Toolchains: map[string]toolchain.Entry{}}
	addEntry := func(name, version string, kind toolchain.Kind, executable string) {
		data, sum := toolchainArchive(t, executable)
		archives["/"+name+".tar.gz"] = data
		manifest.Toolchains[name] = toolchain.Entry{
			Version: version,
			Kind:    kind,
			URL:     server.URL + "/" + name + ".tar.gz",
			Sha256:  sum,
		}
	}

	addEntry("node", "20.11.1", toolchain.KindRuntime, "node")
	addEntry("npm", "10.2.4", toolchain.KindPackageManager, "npm")
	addEntry("rust", "1.76.0", toolchain.KindCompiler, "cargo")

	cfg := &config.Config{
		Toolchains: []toolchain.Spec{
			{Name: "node", Version: "20.11.1", Kind: toolchain.KindRuntime},
			{Name: "npm", Version: "10.2.4", Kind: toolchain.KindPackageManager},
			{Name: "rust", Version: "1.76.0", Kind: toolchain.KindCompiler},
		},
		Profiles: []config.Profile{
			{Name: "docs", Toolchains: []string{"node"}, Greeting: "docs shell"},
		},
	}

	return &profile.Provider{
		Config:   cfg,
		Resolver: toolchain.NewResolver(manifest, t.TempDir()),
	}
}

func TestNames(t *testing.T) {
	provider := testProvider(t)
	assert.Equal(t, []string{"docs", "full", "node-only", "rust-only"}, provider.Names())
}

func TestProvisionBuiltins(t *testing.T) {
	provider := testProvider(t)

	env, prof, err := provider.Provision(context.Background(), "rust-only")
	require.NoError(t, err)
	assert.Equal(t, "rust-only", prof.Name)

	// the native shell carries no managed-language tools
	_, found := env.LookupExecutable("cargo")
	assert.True(t, found)
	_, found = env.LookupExecutable("node")
	assert.False(t, found)
	_, found = env.LookupExecutable("npm")
	assert.False(t, found)

	env, _, err = provider.Provision(context.Background(), "node-only")
	require.NoError(t, err)
	_, found = env.LookupExecutable("node")
	assert.True(t, found)
	_, found = env.LookupExecutable("npm")
	assert.True(t, found)
	_, found = env.LookupExecutable("cargo")
	assert.False(t, found)

	env, _, err = provider.Provision(context.Background(), "full")
	require.NoError(t, err)
	assert.Len(t, env.Toolchains(), 3)
}

func TestProvisionDeclared(t *testing.T) {
	provider := testProvider(t)

	env, prof, err := provider.Provision(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, "docs shell", prof.Greeting)
	assert.Len(t, env.Toolchains(), 1)
}

func TestProvisionUnknown(t *testing.T) {
	provider := testProvider(t)

	_, _, err := provider.Provision(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rust-only")
}
