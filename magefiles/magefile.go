//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Default target to run when none is specified
var Default = Test

// Test runs all tests with race detector
func Test() error {
	return sh.RunV("go", "test", "-race", "-count=1", "./...")
}

// TestDeadlock runs tests with mutexes replaced by deadlock detecting mutexes
func TestDeadlock() error {
	return sh.RunV("go", "test", "-tags=deadlock", "-count=1", "./...")
}

// Vet runs go vet
func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// Build builds j1939ctl binary into bin/
func Build() error {
	mg.Deps(Vet)
	return sh.RunV("go", "build", "-o", "bin/j1939ctl", "./cmd/j1939ctl")
}

// Simulate builds and runs two node simulation on in-memory bus
func Simulate() error {
	mg.Deps(Build)
	return sh.RunV("./bin/j1939ctl", "simulate", "--size", "100", "--progress")
}
