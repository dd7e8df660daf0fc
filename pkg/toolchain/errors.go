package toolchain

import "github.com/rotisserie/eris"

// Resolution error classes. Callers match them with eris.Is; everything except
// ErrNetwork is fatal.
var (
	// ErrAmbiguousSpec is returned for specs that aren't fully pinned
	// (floating version, missing checksum). Those can never be resolved
	// reproducibly so we refuse early.
	ErrAmbiguousSpec = eris.New("toolchain spec is not fully pinned")

	// ErrNotFound is returned when the pin manifest has no artifact matching
	// the spec (unknown name, different version or ruled out on this platform).
	ErrNotFound = eris.New("no matching toolchain artifact")

	// ErrIntegrity is returned when the fetched content doesn't match the
	// pinned checksum. Never downgraded, the download is discarded.
	ErrIntegrity = eris.New("toolchain checksum mismatch")

	// ErrNetwork covers transient fetch failures. Safe to retry since the
	// store is only ever written after a successful verification.
	ErrNetwork = eris.New("toolchain fetch failed")
)
