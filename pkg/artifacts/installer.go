package artifacts

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"

	"github.com/conneroisu/farm/pkg/glog"
)

func shellReadDir(path string) ([]fs.DirEntry, error) {
	if path == "" {
		path = "."
	}

	return os.ReadDir(path)
}

// resolvePattern expands a glob pattern (relative to base) into the list of
// existing files it matches. A pattern that matches nothing yields an empty
// list, not an error.
func resolvePattern(base, pattern string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(base, pattern)
	}
	pattern = filepath.ToSlash(filepath.Clean(pattern))

	cfg := expand.Config{
		ReadDir2: shellReadDir,
		GlobStar: true,
	}

	parser := syntax.NewParser()
	words := make([]*syntax.Word, 0, 1)
	err := parser.Words(strings.NewReader(pattern), func(w *syntax.Word) bool {
		words = append(words, w)
		return true
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse pattern %s", pattern)
	}

	matches, err := expand.Fields(&cfg, words...)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to resolve pattern %s", pattern)
	}

	result := make([]string, 0, len(matches))
	for _, match := range matches {
		// unmatched patterns are returned verbatim, skip those
		if strings.Contains(match, "*") {
			continue
		}

		info, err := os.Stat(match)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		result = append(result, filepath.FromSlash(match))
	}
	return result, nil
}

func copyFile(src, dest string, exec bool) error {
	err := os.MkdirAll(filepath.Dir(dest), 0o755)
	if err != nil {
		return eris.Wrapf(err, "failed to create directory %s", filepath.Dir(dest))
	}

	in, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", src)
	}
	defer in.Close()

	mode := os.FileMode(0o644)
	if exec {
		mode = 0o755
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", dest)
	}
	defer out.Close()

	if _, err = io.Copy(out, in); err != nil {
		return eris.Wrapf(err, "failed to copy %s to %s", src, dest)
	}

	// the umask may have stripped bits on create
	return os.Chmod(dest, mode)
}

// staticPrefix returns the directory part of the pattern that precedes its
// first glob component. Matches keep their path relative to it, so a rule like
// app/dist/**/*.js mirrors the dist tree below its destination.
func staticPrefix(base, pattern string) string {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(base, pattern)
	}
	pattern = filepath.Clean(pattern)

	idx := strings.IndexAny(pattern, "*?[")
	if idx == -1 {
		return filepath.Dir(pattern)
	}
	return filepath.Dir(pattern[:idx])
}

// Install applies the rules against the workspace, copies matches into
// installRoot and writes the launcher scripts. Each match keeps its path
// relative to the rule's static prefix, so nested trees are mirrored rather
// than flattened. Two matches landing on the same destination are an error,
// never a silent overwrite. Mandatory rules that matched nothing make the
// whole operation fail, but files copied before the check stay on disk; the
// layout just isn't considered successfully installed.
func Install(ctx context.Context, workspaceRoot, installRoot string, rules []Rule, launchers []Launcher) (*Layout, error) {
	layout := &Layout{Root: installRoot}
	missing := []string{}
	sources := map[string]string{}

	for _, rule := range rules {
		matches, err := resolvePattern(workspaceRoot, rule.Pattern)
		if err != nil {
			return layout, err
		}

		if len(matches) == 0 {
			if rule.Mandatory {
				missing = append(missing, rule.Pattern)
			} else {
				glog.Log(ctx).Debug().
					Str("pattern", rule.Pattern).
					Msg("optional artifact rule matched nothing")
			}
			continue
		}

		prefix := staticPrefix(workspaceRoot, rule.Pattern)
		for _, match := range matches {
			rel, err := filepath.Rel(prefix, match)
			if err != nil || strings.HasPrefix(rel, "..") {
				rel = filepath.Base(match)
			}

			dest := filepath.Join(installRoot, rule.Dest, rel)
			if prev, taken := sources[dest]; taken {
				return layout, eris.Errorf("both %s and %s install to %s", prev, match, dest)
			}
			sources[dest] = match

			err = copyFile(match, dest, rule.Exec)
			if err != nil {
				return layout, err
			}

			glog.Log(ctx).Info().
				Str("artifact", rel).
				Str("dest", filepath.Join(rule.Dest, rel)).
				Msg("installed")
			layout.Installed = append(layout.Installed, dest)
		}
	}

	for _, launcher := range launchers {
		dest, err := writeLauncher(installRoot, launcher)
		if err != nil {
			return layout, err
		}

		glog.Log(ctx).Info().Str("launcher", launcher.Name).Msg("generated launcher")
		layout.Installed = append(layout.Installed, dest)
	}

	if len(missing) > 0 {
		return layout, eris.Wrapf(ErrMissingArtifact, "no artifacts matched %s", strings.Join(missing, ", "))
	}

	return layout, nil
}

// writeLauncher generates the thin indirection script. The interpreter is
// resolved through PATH at run time; everything else is fixed at install time.
func writeLauncher(installRoot string, launcher Launcher) (string, error) {
	entry, err := filepath.Abs(filepath.Join(installRoot, launcher.Entry))
	if err != nil {
		return "", eris.Wrapf(err, "failed to resolve entry file for launcher %s", launcher.Name)
	}

	script := fmt.Sprintf("#!/bin/sh\nexec %s \"%s\" \"$@\"\n", launcher.Interpreter, entry)

	dest := filepath.Join(installRoot, "bin", launcher.Name)
	err = os.MkdirAll(filepath.Dir(dest), 0o755)
	if err != nil {
		return "", eris.Wrapf(err, "failed to create bin directory for launcher %s", launcher.Name)
	}

	err = os.WriteFile(dest, []byte(script), 0o755)
	if err != nil {
		return "", eris.Wrapf(err, "failed to write launcher %s", launcher.Name)
	}

	// WriteFile only applies the mode on create
	err = os.Chmod(dest, 0o755)
	if err != nil {
		return "", eris.Wrapf(err, "failed to mark launcher %s as executable", launcher.Name)
	}

	return dest, nil
}
