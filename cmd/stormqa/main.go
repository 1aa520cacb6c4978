package main

import (
	"fmt"
	"os"

	"github.com/stormqa/stormqa/internal/cli"
	"github.com/stormqa/stormqa/internal/types"
)

// runMain executes the CLI and returns the exit code.
func runMain() int {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, types.Display(err))
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain())
}
