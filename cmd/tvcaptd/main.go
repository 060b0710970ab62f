// Package main is the entry point for the tvcaptd application.
package main

import (
	"os"

	"github.com/tvcaptd/tvcaptd/cmd/tvcaptd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
