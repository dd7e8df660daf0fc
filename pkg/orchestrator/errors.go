package orchestrator

import "github.com/rotisserie/eris"

var (
	// ErrLockfileDrift is returned when the declared dependencies and the
	// lockfile disagree. It is never auto-repaired; regenerating the lockfile
	// is an explicit, user-driven step.
	ErrLockfileDrift = eris.New("lockfile does not match declared dependencies")

	// ErrWorkspaceLocked is returned when another build holds the workspace.
	// Callers may retry later; two builds never interleave.
	ErrWorkspaceLocked = eris.New("workspace is already being built")

	// ErrBuild wraps failures of the build phases themselves.
	ErrBuild = eris.New("build failed")
)
