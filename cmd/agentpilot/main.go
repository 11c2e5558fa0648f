// Package main is the entry point for the agentpilot CLI.
package main

import (
	"os"

	"github.com/agentpilot/agentpilot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
