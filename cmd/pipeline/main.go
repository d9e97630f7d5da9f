// Package main is the entry point for the report pipeline CLI.
//
// The CLI runs report jobs: every query is sent to every account of the job
// as a parallel search stream, and the per-account results are printed,
// stored and exported. It can also serve the same jobs over an HTTP API.
//
// Commands: run, serve, version.
//
// For detailed usage information, run:
//
//	pipeline --help
package main

import (
	"fmt"
	"os"

	"go-report-pipeline/cmd/pipeline/commands"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
