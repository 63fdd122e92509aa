// Command fitmap runs spectrum aggregation and map fitting from the
// command line, without a server.
package main

import (
	"fmt"
	"os"

	"github.com/xrfmap/server/internal/cli"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
