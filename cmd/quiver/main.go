// Package main provides the entry point for the quiver CLI.
package main

import (
	"os"

	"github.com/quiver-search/quiver/cmd/quiver/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
