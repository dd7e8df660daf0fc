package cmd

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/conneroisu/farm/pkg/toolchain"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [toolchain ...]",
	Short: "Resolves pinned toolchains without building",
	Long: `Materializes the given toolchains (all declared ones when no names
are passed) into the content-addressed store and prints their handles.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		cfg, resolver, err := loadProject(ctx, nil)
		if err != nil {
			return err
		}

		specs := cfg.Toolchains
		if len(args) > 0 {
			specs = specs[:0:0]
			for _, name := range args {
				spec, ok := cfg.ToolchainSpec(name)
				if !ok {
					return eris.Errorf("toolchain %s is not declared in %s", name, "granary.star")
				}
				specs = append(specs, spec)
			}
		}

		for _, spec := range specs {
			resolved, err := resolver.Resolve(ctx, spec)
			if err != nil {
				return err
			}

			kind := spec.Kind
			if kind == "" {
				kind = toolchain.KindUtility
			}
			fmt.Printf("%-24s %-16s %s\n", spec.String(), kind, resolved.StorePath)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
