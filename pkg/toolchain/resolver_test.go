package toolchain_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/farm/pkg/toolchain"
)

// makeTarGz builds a small toolchain archive and returns its bytes plus the
// sha256 pin for it.
func makeTarGz(t *testing.T, files map[string]string) ([]byte, string) {
	t.Helper()

	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	tw := tar.NewWriter(gz)

	for name, content := range files {
		err := tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o755,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		})
		require.NoError(t, err)

		_, err = tw.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	sum := sha256.Sum256(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(sum[:])
}

func archiveServer(t *testing.T, path string, data []byte) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestResolveColdAndWarm(t *testing.T) {
	archive, sum := makeTarGz(t, map[string]string{
		"tool-1.2.3/bin/tool": "#!/bin/sh\necho hi\n",
	})
	server := archiveServer(t, "/tool-1.2.3.tar.gz", archive)

	manifest := &toolchain.Manifest{
		Toolchains: map[string]toolchain.Entry{
			"tool": {
				Version: "1.2.3",
				Kind:    toolchain.KindCompiler,
				URL:     server.URL + "/tool-{VERSION}.tar.gz",
				Sha256:  sum,
				Strip:   1,
			},
		},
	}

	resolver := toolchain.NewResolver(manifest, t.TempDir())
	spec := toolchain.Spec{Name: "tool", Version: "1.2.3", Kind: toolchain.KindCompiler}

	cold, err := resolver.Resolve(context.Background(), spec)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(cold.BinDir, "tool"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho hi\n", string(content))

	// the warm path must not touch the network at all
	server.Close()

	warm, err := resolver.Resolve(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, cold.StorePath, warm.StorePath)
	assert.Equal(t, cold.BinDir, warm.BinDir)
}

func TestResolveRejectsFloatingVersions(t *testing.T) {
	resolver := toolchain.NewResolver(&toolchain.Manifest{}, t.TempDir())

	for _, version := range []string{"", "^1.2.3", "~1.2", "1.x", "1.2", "latest"} {
		_, err := resolver.Resolve(context.Background(), toolchain.Spec{Name: "tool", Version: version})
		assert.True(t, eris.Is(err, toolchain.ErrAmbiguousSpec), "version %q should be ambiguous", version)
	}
}

func TestResolveIntegrityMismatch(t *testing.T) {
	archive, _ := makeTarGz(t, map[string]string{
		"tool-1.2.3/bin/tool": "payload",
	})
	server := archiveServer(t, "/tool-1.2.3.tar.gz", archive)

	manifest := &toolchain.Manifest{
		Toolchains: map[string]toolchain.Entry{
			"tool": {
				Version: "1.2.3",
				URL:     server.URL + "/tool-1.2.3.tar.gz",
				Sha256:  "deadbeef",
			},
		},
	}

	cacheRoot := t.TempDir()
	resolver := toolchain.NewResolver(manifest, cacheRoot)

	_, err := resolver.Resolve(context.Background(), toolchain.Spec{Name: "tool", Version: "1.2.3"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, toolchain.ErrIntegrity))

	// nothing may have been unpacked into the store
	entries, err := os.ReadDir(filepath.Join(cacheRoot, "store"))
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, entry.IsDir(), "store must stay empty after an integrity failure")
	}
}

func TestResolveRejectsEscapingArchive(t *testing.T) {
	archive, sum := makeTarGz(t, map[string]string{
		"../evil.txt": "outside",
	})
	server := archiveServer(t, "/tool-1.2.3.tar.gz", archive)

	manifest := &toolchain.Manifest{
		Toolchains: map[string]toolchain.Entry{
			"tool": {
				Version: "1.2.3",
				URL:     server.URL + "/tool-1.2.3.tar.gz",
				Sha256:  sum,
			},
		},
	}

	cacheRoot := t.TempDir()
	resolver := toolchain.NewResolver(manifest, cacheRoot)

	_, err := resolver.Resolve(context.Background(), toolchain.Spec{Name: "tool", Version: "1.2.3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")

	// the entry must not have been written next to the store entry
	assert.NoFileExists(t, filepath.Join(cacheRoot, "store", "evil.txt"))
}

func TestResolveNotFound(t *testing.T) {
	server := archiveServer(t, "/other.tar.gz", nil)

	manifest := &toolchain.Manifest{
		Toolchains: map[string]toolchain.Entry{
			"tool": {
				Version: "1.2.3",
				URL:     server.URL + "/missing.tar.gz",
				Sha256:  "0000",
			},
		},
	}

	resolver := toolchain.NewResolver(manifest, t.TempDir())

	_, err := resolver.Resolve(context.Background(), toolchain.Spec{Name: "tool", Version: "1.2.3"})
	assert.True(t, eris.Is(err, toolchain.ErrNotFound))

	_, err = resolver.Resolve(context.Background(), toolchain.Spec{Name: "unknown", Version: "1.0.0"})
	assert.True(t, eris.Is(err, toolchain.ErrNotFound))
}
