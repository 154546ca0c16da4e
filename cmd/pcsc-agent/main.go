// Command pcsc-agent bridges the platform smart card service to the command
// line and a local HTTP and WebSocket API.
package main

import (
	"fmt"
	"os"

	"github.com/SimplyPrint/pcsc-agent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
