// Package main is the entry point for the taskdb operator CLI.
package main

import (
	"os"

	"github.com/triage-ai/taskdb/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
