package main

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Janders1800/crown/engine/resource"
)

var hashCmd = &cobra.Command{
	Use:   "hash <name.type>",
	Short: "Print the 64-bit id of a resource",
	Long: `Print the id a logical resource name maps to, which is also the
file name of its compiled data.

Example:
  datac hash textures/brick.texture`,
	Args: cobra.ExactArgs(1),
	Run:  runHash,
}

func runHash(cmd *cobra.Command, args []string) {
	arg := path.Clean(filepath.ToSlash(args[0]))
	ext := strings.TrimPrefix(path.Ext(arg), ".")
	if ext == "" {
		fmt.Fprintf(os.Stderr, "%q has no type extension\n", arg)
		os.Exit(1)
	}
	name := strings.TrimSuffix(arg, "."+ext)
	fmt.Println(resource.MakeID(ext, name))
}
