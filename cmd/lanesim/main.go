// Command lanesim runs PCIe lane bring-up scenarios in simulated time.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/pcielane/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
