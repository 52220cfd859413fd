// Package main is the entry point for the cifabric CLI.
package main

import (
	"os"

	"github.com/cifabric/cifabric/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
