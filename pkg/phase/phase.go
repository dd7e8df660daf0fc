// Package phase runs ordered build phases with pre/post hooks. Phase bodies
// and hooks are small shell programs executed in-process.
package phase

// Names of the fixed pipeline phases. Hooks may only attach to these.
const (
	NodeInstall = "node-install"
	NodeBuild   = "node-build"
	NativeBuild = "native-build"
)

// Hook holds the optional shell snippets that run around a phase. Empty
// strings mean "no hook" and are always valid.
type Hook struct {
	Pre  string
	Post string
}

// HookSet maps phase names to their hooks.
type HookSet map[string]Hook

// Phase is one step of the pipeline. Phases execute strictly in ascending
// ordinal order; a phase's post-hook runs before the next phase's pre-hook.
type Phase struct {
	Name    string
	Ordinal int
	Dir     string
	Body    string
	Hooks   Hook
}

// State of a Sequencer.
type State int

const (
	Pending State = iota
	Running
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Status reports where a run currently is, or where it stopped.
type Status struct {
	State State
	Phase string
	Cause error
}
