// Package main is the entry point for the treechat CLI.
package main

import (
	"fmt"
	"os"

	"github.com/treechat/treechat/internal/treechat"
)

// Version information (set by goreleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func buildVersion() string {
	if commit == "none" {
		return version
	}
	return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
}

func main() {
	if err := treechat.Execute(buildVersion()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
