// Command reduce runs reduction recipes over datasets.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/reduce/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "reduce:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
