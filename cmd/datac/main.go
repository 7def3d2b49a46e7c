// datac compiles source assets into the engine's binary data format.
//
// Usage:
//
//	datac compile [assets...]  - Compile the source tree, or just the named assets
//	datac watch                - Compile, then recompile whenever sources change
//	datac hash <name.type>     - Print the 64-bit resource id
//
// Global flags:
//
//	--config <path>      - Tool configuration (default: datac.toml)
//	--source-dir <path>  - Override the source tree root
//	--data-dir <path>    - Override the output directory
//	--platform <name>    - Override the target platform
//	--jobs <n>           - Worker count (0 = all cores)
//	--verbose            - Log debug detail
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Janders1800/crown/engine/core"
	"github.com/Janders1800/crown/engine/pipeline"
	"github.com/Janders1800/crown/engine/resource"
)

var (
	// Global flags
	flagConfig    string
	flagSourceDir string
	flagDataDir   string
	flagPlatform  string
	flagJobs      int
	flagVerbose   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "datac",
	Short: "Crown data compiler",
	Long: `datac turns a tree of source asset descriptors into the binary data
files the engine loads at runtime.

Available commands:
  compile  - Compile the source tree (incremental; see --force)
  watch    - Compile, then recompile whenever sources change
  hash     - Print a resource id

Examples:
  datac compile
  datac compile textures/brick.texture
  datac compile --platform windows --force
  datac watch
  datac hash textures/brick.texture`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "datac.toml", "Path to the tool configuration")
	rootCmd.PersistentFlags().StringVar(&flagSourceDir, "source-dir", "", "Override the source tree root")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Override the output directory")
	rootCmd.PersistentFlags().StringVar(&flagPlatform, "platform", "", "Override the target platform")
	rootCmd.PersistentFlags().IntVar(&flagJobs, "jobs", 0, "Worker count (0 = all cores)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log debug detail")

	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(hashCmd)
}

// loadConfig resolves the effective configuration: datac.toml when present,
// built-in defaults otherwise, command-line flags last.
func loadConfig(cmd *cobra.Command) (*pipeline.Config, error) {
	var cfg *pipeline.Config
	if _, err := os.Stat(flagConfig); err == nil {
		cfg, err = pipeline.LoadConfig(flagConfig)
		if err != nil {
			return nil, err
		}
	} else if cmd.Flags().Changed("config") {
		return nil, fmt.Errorf("config %s not found", flagConfig)
	} else {
		cfg = pipeline.DefaultConfig()
	}

	if flagSourceDir != "" {
		cfg.SourceDir = flagSourceDir
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagPlatform != "" {
		cfg.Platform = flagPlatform
	}
	if cmd.Flags().Changed("jobs") {
		cfg.Jobs = flagJobs
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if flagVerbose {
		core.SetLogVerbose(true)
	}
	return cfg, nil
}

// newCompiler builds the compiler every subcommand runs on. Errors here are
// configuration faults; print and exit.
func newCompiler(cmd *cobra.Command) (*pipeline.Compiler, *pipeline.BuildDB) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	db, err := pipeline.OpenBuildDB(filepath.Join(cfg.DataDir, "build.db"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return pipeline.NewCompiler(cfg, resource.Builtin(), db), db
}
