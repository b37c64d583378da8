// The main package for the ocsync executable.
package main

import (
	"github.com/JakeFAU/ocsync/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
