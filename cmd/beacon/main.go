// Command beacon runs the job event relay, a demo worker and a terminal
// viewer.
package main

import (
	"os"

	"github.com/xraph/beacon/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
