// The main package for the tieredcrawler executable.
package main

import (
	"github.com/JakeFAU/tiered-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
