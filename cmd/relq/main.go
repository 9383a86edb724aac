// Command relq translates LINQ-style queries over an entity model into SQL
// and runs them against SQLite.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/relq/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}

	// Commands report their own errors; cobra's flag and argument errors
	// are not ExitErrors.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
