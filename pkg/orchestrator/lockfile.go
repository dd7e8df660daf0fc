package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"
)

type packageManifest struct {
	Name            string            `json:"name"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

type lockfileEntry struct {
	Version string `json:"version"`
}

type lockfile struct {
	Name            string                   `json:"name"`
	LockfileVersion int                      `json:"lockfileVersion"`
	Packages        map[string]lockfileEntry `json:"packages"`
}

func readJSON(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// verifyLockfile checks that every dependency declared in package.json has a
// matching, satisfying entry in package-lock.json. It runs before any build
// tool is invoked and fails closed: a drifted lockfile is reported, never
// silently re-resolved.
func verifyLockfile(dir string) error {
	var manifest packageManifest
	manifestPath := filepath.Join(dir, "package.json")
	if err := readJSON(manifestPath, &manifest); err != nil {
		return eris.Wrapf(err, "failed to read %s", manifestPath)
	}

	var lock lockfile
	lockPath := filepath.Join(dir, "package-lock.json")
	if err := readJSON(lockPath, &lock); err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return eris.Wrapf(ErrLockfileDrift, "%s has no lockfile", dir)
		}
		return eris.Wrapf(err, "failed to read %s", lockPath)
	}

	if lock.LockfileVersion < 2 {
		return eris.Wrapf(ErrLockfileDrift, "%s uses lockfile version %d, need 2 or newer", lockPath, lock.LockfileVersion)
	}

	check := func(declared map[string]string) error {
		for name, constraint := range declared {
			entry, ok := lock.Packages["node_modules/"+name]
			if !ok {
				return eris.Wrapf(ErrLockfileDrift, "%s is declared in %s but missing from the lockfile", name, manifestPath)
			}

			// non-registry specifiers (git URLs, file: paths, ...) can't be
			// range-checked; for those presence in the lockfile is the best
			// we can assert
			rng, err := semver.NewConstraint(constraint)
			if err != nil {
				continue
			}

			resolved, err := semver.NewVersion(entry.Version)
			if err != nil {
				return eris.Wrapf(ErrLockfileDrift, "lockfile entry for %s has unparsable version %q", name, entry.Version)
			}

			if !rng.Check(resolved) {
				return eris.Wrapf(ErrLockfileDrift, "%s is declared as %s but locked at %s", name, constraint, entry.Version)
			}
		}
		return nil
	}

	if err := check(manifest.Dependencies); err != nil {
		return err
	}
	return check(manifest.DevDependencies)
}
