// Command diel compiles and runs DIEL programs.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/diel/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
