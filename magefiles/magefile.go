//go:build mage

// Package main provides build targets for entitycore using Mage.
//
// Usage:
//
//	mage build      Compile entityctl and definition-check to bin/
//	mage test       Run all tests
//	mage coverage   Run tests with coverage and write coverage.out
//	mage lint       Run go vet and golangci-lint when available
//	mage check      Validate the entity-definition manifest
//	mage clean      Remove build artifacts
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo  = "go"
	binDir = "bin"
)

var binaries = map[string]string{
	"entityctl":        "./cmd/entityctl",
	"definition-check": "./cmd/definition-check",
}

// Build compiles the project binaries to bin/.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}
	for name, dir := range binaries {
		if err := sh.RunV(binGo, "build", "-o", filepath.Join(binDir, name), dir); err != nil {
			return err
		}
	}
	return nil
}

// Test runs the full test suite.
func Test() error {
	return sh.RunV(binGo, "test", "./...")
}

// Coverage runs the tests with coverage and writes coverage.out.
func Coverage() error {
	if err := sh.RunV(binGo, "test", "-coverprofile=coverage.out", "./..."); err != nil {
		return err
	}
	return sh.RunV(binGo, "tool", "cover", "-func=coverage.out")
}

// Lint runs go vet, plus golangci-lint when it is installed.
func Lint() error {
	if err := sh.RunV(binGo, "vet", "./..."); err != nil {
		return err
	}
	if _, err := exec.LookPath("golangci-lint"); err != nil {
		fmt.Println("golangci-lint not installed; skipping")
		return nil
	}
	return sh.RunV("golangci-lint", "run", "./...")
}

// Check builds and runs the manifest validator against the checked-in model.
func Check() error {
	mg.Deps(Build)
	return sh.RunV(filepath.Join(binDir, "definition-check"), "-manifest", "docs/schema/billing-model.json")
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binDir); err != nil {
		return err
	}
	_ = os.Remove("coverage.out")
	return sh.RunV(binGo, "clean")
}
