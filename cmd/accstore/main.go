package main

import (
	"github.com/asad/accstore/internal/cli"
)

// main delegates to the CLI package which handles command parsing and execution.
func main() {
	cli.Execute()
}
