package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Janders1800/crown/engine/pipeline"
)

var flagForce bool

var compileCmd = &cobra.Command{
	Use:   "compile [assets...]",
	Short: "Compile the source tree into binary data",
	Long: `Compile every asset in the source tree, or just the named ones.
Assets are source-relative descriptor paths, e.g. textures/brick.texture.

Unchanged assets are skipped based on the build database; pass --force to
recompile everything. The exit code is 1 when any asset fails.`,
	Run: runCompile,
}

func init() {
	compileCmd.Flags().BoolVar(&flagForce, "force", false, "Recompile everything, ignoring the build database")
}

func runCompile(cmd *cobra.Command, args []string) {
	comp, db := newCompiler(cmd)
	defer db.Close()
	comp.Force = flagForce

	var err error
	if len(args) == 0 {
		_, err = comp.CompileAll()
	} else {
		assets := make([]pipeline.Asset, 0, len(args))
		for _, arg := range args {
			a, aerr := comp.AssetFromPath(arg)
			if aerr != nil {
				fmt.Fprintln(os.Stderr, aerr)
				os.Exit(1)
			}
			assets = append(assets, a)
		}
		_, err = comp.CompileAssets(assets)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
