// Command flightctl is the command-line client of duck-flight.
package main

import (
	"os"

	"duck-flight/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
