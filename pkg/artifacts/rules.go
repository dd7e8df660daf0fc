// Package artifacts collects build outputs into the installed layout and
// generates launcher scripts.
package artifacts

import "github.com/rotisserie/eris"

// ErrMissingArtifact is returned when a mandatory rule matched nothing.
var ErrMissingArtifact = eris.New("mandatory artifact missing")

// Rule declares one artifact pattern. Matching is best-effort discovery: an
// optional rule with zero matches is fine, a mandatory one isn't.
type Rule struct {
	// Pattern is a shell glob (** supported) relative to the workspace root.
	Pattern string
	// Dest is the subdirectory of the install root the matches go to
	// (bin, lib, libexec/<name>, ...).
	Dest string
	// Exec marks copies as executable.
	Exec bool
	// Mandatory turns "zero matches" into a hard failure.
	Mandatory bool
}

// Launcher describes a generated indirection script: a fixed interpreter
// invoked against a fixed entry file inside the installed tree.
type Launcher struct {
	Name        string
	Interpreter string
	// Entry is relative to the install root.
	Entry string
}

// Layout is the result of a successful (or partially completed) install.
type Layout struct {
	Root      string
	Installed []string
}
