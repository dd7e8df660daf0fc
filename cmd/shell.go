package cmd

import (
	"os"
	"os/exec"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/conneroisu/farm/pkg/profile"
)

var shellCmd = &cobra.Command{
	Use:   "shell <profile>",
	Short: "Enters a named development shell",
	Long: `Provisions the toolchains of the given profile and starts an
interactive sub-shell inside the composed environment. Built-in profiles:
full, rust-only, node-only; granary.star may declare more.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return eris.New("shell needs an interactive terminal")
		}

		ctx, cancel := commandContext()
		defer cancel()

		cfg, resolver, err := loadProject(ctx, nil)
		if err != nil {
			return err
		}

		provider := &profile.Provider{Config: cfg, Resolver: resolver}
		env, prof, err := provider.Provision(ctx, args[0])
		if err != nil {
			return err
		}

		profile.Greet(env, prof)

		shellBin := os.Getenv("SHELL")
		if shellBin == "" {
			shellBin = "/bin/sh"
		}

		sub := exec.CommandContext(ctx, shellBin)
		sub.Env = env.Environ(os.Environ())
		sub.Dir = cfg.Root
		sub.Stdin = os.Stdin
		sub.Stdout = os.Stdout
		sub.Stderr = os.Stderr

		err = sub.Run()
		if err != nil {
			exitErr, ok := err.(*exec.ExitError)
			if ok {
				// the session's exit code is the user's, not ours
				os.Exit(exitErr.ExitCode())
			}
			return eris.Wrapf(err, "failed to start %s", shellBin)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}
