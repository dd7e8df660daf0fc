package artifacts_test

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/farm/pkg/artifacts"
)

func writeWorkspaceFile(t *testing.T, root, relPath, content string) {
	t.Helper()

	path := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestInstall(t *testing.T) {
	workspace := t.TempDir()
	installRoot := filepath.Join(t.TempDir(), "dist")

	writeWorkspaceFile(t, workspace, "target/release/create-farm", "binary")
	writeWorkspaceFile(t, workspace, "app/dist/index.js", "console.log('hi')")
	writeWorkspaceFile(t, workspace, "app/dist/util.js", "module.exports = {}")

	rules := []artifacts.Rule{
		{Pattern: "target/release/create-farm", Dest: "bin", Exec: true, Mandatory: true},
		{Pattern: "app/dist/*.js", Dest: "libexec/create-farm", Mandatory: true},
		{Pattern: "target/release/*.so", Dest: "lib"},
	}
	launchers := []artifacts.Launcher{
		{Name: "farm", Interpreter: "node", Entry: "libexec/create-farm/index.js"},
	}

	layout, err := artifacts.Install(context.Background(), workspace, installRoot, rules, launchers)
	require.NoError(t, err)
	assert.Len(t, layout.Installed, 4)

	info, err := os.Stat(filepath.Join(installRoot, "bin", "create-farm"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(installRoot, "libexec", "create-farm", "index.js"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	assert.FileExists(t, filepath.Join(installRoot, "libexec", "create-farm", "util.js"))

	// the optional rule matched nothing and that's fine
	assert.NoDirExists(t, filepath.Join(installRoot, "lib"))

	launcherPath := filepath.Join(installRoot, "bin", "farm")
	info, err = os.Stat(launcherPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	script, err := os.ReadFile(launcherPath)
	require.NoError(t, err)
	entry, err := filepath.Abs(filepath.Join(installRoot, "libexec/create-farm/index.js"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\nexec node \""+entry+"\" \"$@\"\n", string(script))
}

func TestInstallMissingMandatory(t *testing.T) {
	workspace := t.TempDir()
	installRoot := filepath.Join(t.TempDir(), "dist")

	writeWorkspaceFile(t, workspace, "app/dist/index.js", "x")

	rules := []artifacts.Rule{
		{Pattern: "app/dist/*.js", Dest: "libexec", Mandatory: true},
		{Pattern: "target/release/create-farm", Dest: "bin", Exec: true, Mandatory: true},
	}

	_, err := artifacts.Install(context.Background(), workspace, installRoot, rules, nil)
	require.Error(t, err)
	assert.True(t, eris.Is(err, artifacts.ErrMissingArtifact))
	assert.Contains(t, err.Error(), "target/release/create-farm")

	// copies made before the check stay in place
	assert.FileExists(t, filepath.Join(installRoot, "libexec", "index.js"))
}

func TestInstallGlobStar(t *testing.T) {
	workspace := t.TempDir()
	installRoot := filepath.Join(t.TempDir(), "dist")

	writeWorkspaceFile(t, workspace, "assets/img/logo.svg", "<svg/>")
	writeWorkspaceFile(t, workspace, "assets/fonts/deep/mono.woff2", "font")

	rules := []artifacts.Rule{
		{Pattern: "assets/**/*.svg", Dest: "share"},
		{Pattern: "assets/**/*.woff2", Dest: "share"},
	}

	layout, err := artifacts.Install(context.Background(), workspace, installRoot, rules, nil)
	require.NoError(t, err)
	assert.Len(t, layout.Installed, 2)
	assert.FileExists(t, filepath.Join(installRoot, "share", "img", "logo.svg"))
	assert.FileExists(t, filepath.Join(installRoot, "share", "fonts", "deep", "mono.woff2"))
}

func TestInstallMirrorsNestedMatches(t *testing.T) {
	workspace := t.TempDir()
	installRoot := filepath.Join(t.TempDir(), "dist")

	// same file name in two subtrees of one rule
	writeWorkspaceFile(t, workspace, "app/dist/cli/index.js", "cli entry")
	writeWorkspaceFile(t, workspace, "app/dist/lib/index.js", "lib entry")

	rules := []artifacts.Rule{
		{Pattern: "app/dist/**/*.js", Dest: "libexec/create-farm", Mandatory: true},
	}

	layout, err := artifacts.Install(context.Background(), workspace, installRoot, rules, nil)
	require.NoError(t, err)
	assert.Len(t, layout.Installed, 2)

	cli, err := os.ReadFile(filepath.Join(installRoot, "libexec", "create-farm", "cli", "index.js"))
	require.NoError(t, err)
	assert.Equal(t, "cli entry", string(cli))

	lib, err := os.ReadFile(filepath.Join(installRoot, "libexec", "create-farm", "lib", "index.js"))
	require.NoError(t, err)
	assert.Equal(t, "lib entry", string(lib))
}

func TestInstallRejectsDestinationCollisions(t *testing.T) {
	workspace := t.TempDir()
	installRoot := filepath.Join(t.TempDir(), "dist")

	writeWorkspaceFile(t, workspace, "target/release/farm-helper", "native")
	writeWorkspaceFile(t, workspace, "tools/farm-helper", "script")

	rules := []artifacts.Rule{
		{Pattern: "target/release/farm-helper", Dest: "bin", Exec: true},
		{Pattern: "tools/farm-helper", Dest: "bin", Exec: true},
	}

	_, err := artifacts.Install(context.Background(), workspace, installRoot, rules, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "install to")
}

func TestPack(t *testing.T) {
	layoutRoot := t.TempDir()
	writeWorkspaceFile(t, layoutRoot, "bin/farm", "#!/bin/sh\n")
	require.NoError(t, os.Chmod(filepath.Join(layoutRoot, "bin", "farm"), 0o755))
	writeWorkspaceFile(t, layoutRoot, "libexec/create-farm/index.js", "console.log('hi')")

	outPath := filepath.Join(t.TempDir(), "farm.gra")
	require.NoError(t, artifacts.Pack(layoutRoot, outPath))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Greater(t, len(data), 28)

	assert.Equal(t, "GRNY", string(data[:4]))
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(data[4:12]))

	tocOffset := binary.LittleEndian.Uint64(data[12:20])
	assert.Less(t, tocOffset, uint64(len(data)))

	// bin/, farm, ".."; libexec/, create-farm/, index.js, "..", ".."
	assert.Equal(t, uint64(8), binary.LittleEndian.Uint64(data[20:28]))

	// identical layouts produce identical archives
	outPath2 := filepath.Join(t.TempDir(), "farm2.gra")
	require.NoError(t, artifacts.Pack(layoutRoot, outPath2))
	data2, err := os.ReadFile(outPath2)
	require.NoError(t, err)
	assert.Equal(t, data, data2)
}
