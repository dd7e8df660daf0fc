package phase

import (
	"context"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/conneroisu/farm/pkg/environ"
	"github.com/conneroisu/farm/pkg/glog"
)

// Sequencer drives phases through Pending -> Running -> Succeeded/Failed.
// A failure in a pre-hook, body or post-hook halts the run; later phases are
// never attempted and nothing is rolled back.
type Sequencer struct {
	// Stdout and Stderr receive the output of phase commands. They default
	// to the process streams.
	Stdout io.Writer
	Stderr io.Writer

	// DryRun logs the commands without executing anything.
	DryRun bool

	status Status
}

// Status returns the current (or final) state of the last Run call.
func (s *Sequencer) Status() Status {
	return s.status
}

// Run executes the given phases in ascending ordinal order within env.
func (s *Sequencer) Run(ctx context.Context, phases []Phase, env *environ.Context) error {
	ordered := append([]Phase(nil), phases...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Ordinal < ordered[j].Ordinal
	})

	s.status = Status{State: Pending}

	envList := expand.ListEnviron(env.Environ(os.Environ())...)

	for _, ph := range ordered {
		s.status = Status{State: Running, Phase: ph.Name}
		glog.Log(ctx).Info().Str("phase", ph.Name).Msg("phase started")

		err := s.runPhase(ctx, ph, envList)
		if err != nil {
			s.status = Status{State: Failed, Phase: ph.Name, Cause: err}
			return eris.Wrapf(err, "phase %s failed", ph.Name)
		}

		glog.Log(ctx).Info().Str("phase", ph.Name).Msg("phase finished")
	}

	s.status = Status{State: Succeeded}
	return nil
}

func (s *Sequencer) runPhase(ctx context.Context, ph Phase, env expand.Environ) error {
	steps := []struct {
		label string
		src   string
	}{
		{ph.Name + ":pre", ph.Hooks.Pre},
		{ph.Name, ph.Body},
		{ph.Name + ":post", ph.Hooks.Post},
	}

	for _, step := range steps {
		if step.src == "" {
			continue
		}

		err := s.runShell(ctx, ph.Dir, env, step.label, step.src)
		if err != nil {
			return err
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}

func (s *Sequencer) runShell(ctx context.Context, dir string, env expand.Environ, label, src string) error {
	parser := syntax.NewParser()
	prog, err := parser.Parse(strings.NewReader(src), label)
	if err != nil {
		return eris.Wrapf(err, "failed to parse commands for %s", label)
	}

	stdout := s.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := s.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(env),
		interp.StdIO(nil, stdout, stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "failed to initialize shell runner")
	}

	printer := syntax.NewPrinter(syntax.Minify(true))
	strBuffer := strings.Builder{}

	for _, stmt := range prog.Stmts {
		strBuffer.Reset()
		printer.Print(&strBuffer, stmt)
		glog.Log(ctx).Info().
			Str("step", label).
			Bool("command", true).
			Msg(strBuffer.String())

		if s.DryRun {
			continue
		}

		err = runner.Run(ctx, stmt)
		if err != nil {
			return err
		}

		if runner.Exited() {
			return nil
		}
	}

	return nil
}
