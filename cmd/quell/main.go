// Quell is an alert correlation and noise-reduction engine.
//
// This is the main entry point that delegates to the internal cmd package
// for all command handling.
package main

import "github.com/quellhq/quell/internal/cmd"

func main() {
	cmd.Execute()
}
