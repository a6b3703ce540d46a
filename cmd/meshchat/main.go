// Package main provides the entrypoint for the meshchat CLI.
package main

import (
	"fmt"
	"os"

	"meshchat.dev/go/meshchat/internal/cli"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version)
	cli.SetBuildInfo(commit, buildDate)
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
