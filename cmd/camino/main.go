package main

import (
	"fmt"
	"os"

	"github.com/roach88/camino/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Command RunE funcs format their own output; anything surfacing
		// here is a flag/usage error or an ExitError carrying its code.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
