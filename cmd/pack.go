package cmd

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/conneroisu/farm/pkg/artifacts"
	"github.com/conneroisu/farm/pkg/glog"
)

var packCmd = &cobra.Command{
	Use:   "pack <output.gra>",
	Short: "Packs the installed layout into a distribution archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		cfg, _, err := loadProject(ctx, nil)
		if err != nil {
			return err
		}

		installDir := filepath.Join(cfg.Root, "dist")
		info, err := os.Stat(installDir)
		if err != nil || !info.IsDir() {
			return eris.Errorf("no installed layout at %s, run `granary build` first", installDir)
		}

		err = artifacts.Pack(installDir, args[0])
		if err != nil {
			return err
		}

		glog.Log(ctx).Info().Str("archive", args[0]).Msg("packed layout")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(packCmd)
}
