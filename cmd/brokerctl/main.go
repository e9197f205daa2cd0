// Command brokerctl runs one-shot broker operations from the terminal.
package main

import (
	"os"

	"github.com/coachpo/asxtrader/cmd/brokerctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
