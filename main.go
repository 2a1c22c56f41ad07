// The main package for the idlharvest executable.
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"idlharvest/cmd"
)

// main defers execution to the Cobra CLI. Any error that escapes, including
// a recovered panic, is printed with its stack and exits non-zero: a failed
// run must never look like a clean one.
func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n%s", r, debug.Stack())
			os.Exit(1)
		}
	}()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "idlharvest: %v\n", err)
		os.Exit(1)
	}
}
