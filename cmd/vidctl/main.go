// Package main is the entry point for vidctl, the operator CLI for the videogen API.
package main

import (
	"os"

	"github.com/cuongbtq/videogen/cmd/vidctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
