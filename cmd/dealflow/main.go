// Package main provides the entry point for the dealflow CLI.
package main

import (
	"os"

	"github.com/dealflowhq/dealflow/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
