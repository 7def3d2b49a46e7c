//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the source tree with a freshly built datac.
func (Run) Compile() error {
	mg.Deps(Build.Datac)
	fmt.Println("Compiling data...")
	if _, err := executeCmd("bin/datac", withArgs("compile"), withStream()); err != nil {
		return err
	}
	return nil
}

// Watches the source tree, recompiling on change.
func (Run) Watch() error {
	mg.Deps(Build.Datac)
	if _, err := executeCmd("bin/datac", withArgs("watch"), withStream()); err != nil {
		return err
	}
	return nil
}
