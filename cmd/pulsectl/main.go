// Package main is the entry point for pulsectl, the compliancepulse
// admin CLI.
package main

import (
	"os"

	"compliancepulse/cmd/pulsectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
