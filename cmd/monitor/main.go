// Command monitor watches the XRP Ledger transaction stream for wash
// trading and spoofing patterns.
package main

import (
	"os"

	"xrpl-wash-monitor/cmd/monitor/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
