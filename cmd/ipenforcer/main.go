// Command ipenforcer is the command line client for the IP Enforcer API.
package main

import (
	"fmt"
	"os"

	"github.com/pendergraft/ipenforcer/internal/cli"
)

// Set at build time
var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
