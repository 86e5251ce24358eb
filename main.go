// The main package for the fetchsession executable.
package main

import (
	"github.com/arxivist/fetchsession/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
