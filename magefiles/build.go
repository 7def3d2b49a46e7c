//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Builds the data compiler into bin/datac.
func (Build) Datac() error {
	if _, err := executeCmd("go", withArgs("build", "-o", "bin/datac", "./cmd/datac"), withStream()); err != nil {
		return err
	}
	return nil
}

type Test mg.Namespace

// Runs the full test suite.
func (Test) Unit() error {
	_, err := executeCmd("go", withArgs("test", "./..."), withStream())
	return err
}

// Runs go vet across the module.
func (Test) Vet() error {
	_, err := executeCmd("go", withArgs("vet", "./..."), withStream())
	return err
}
