// Command famlink commits family links over a corpus index and runs the
// background job worker.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/famlink/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
