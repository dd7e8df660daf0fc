package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/conneroisu/farm/pkg/orchestrator"
)

var buildCmd = &cobra.Command{
	Use:   "build [key=value ...]",
	Short: "Runs the full build pipeline",
	Long: `Verifies the lockfile, installs the managed dependencies, builds the
managed packages and the native workspace and installs the artifacts into
dist/. Options declared by granary.star can be overridden as key=value
arguments.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, err := cmd.Flags().GetBool("dry")
		if err != nil {
			return err
		}

		options := make(map[string]string)
		for _, part := range args {
			pos := strings.Index(part, "=")
			if pos > -1 {
				options[part[:pos]] = part[pos+1:]
			}
		}

		ctx, cancel := commandContext()
		defer cancel()

		cfg, resolver, err := loadProject(ctx, options)
		if err != nil {
			return err
		}

		orch := orchestrator.New(cfg, resolver)
		orch.Sequencer.DryRun = dryRun

		_, err = orch.Build(ctx)
		return err
	},
}

func init() {
	buildCmd.Flags().BoolP("dry", "n", false, "only print the commands, don't execute anything")
	rootCmd.AddCommand(buildCmd)
}
