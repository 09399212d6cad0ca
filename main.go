package main

import (
	"github.com/JakeFAU/contact-harvester/cmd"
)

// main defers all execution to the Cobra command tree.
func main() {
	cmd.Execute()
}
