package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Janders1800/crown/engine/core"
	"github.com/Janders1800/crown/engine/pipeline"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Compile, then recompile whenever sources change",
	Long: `Run a full compile, then watch the source tree and recompile any
asset whose descriptor or dependencies change. Runs until interrupted.`,
	Run: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) {
	comp, db := newCompiler(cmd)
	defer db.Close()

	// The initial pass may fail on broken assets; keep watching so a fix
	// recompiles them.
	if _, err := comp.CompileAll(); err != nil {
		core.LogError("%v", err)
	}

	w, err := pipeline.NewWatcher(comp)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
