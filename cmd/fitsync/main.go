// Package main is the fitsync command line entry point.
package main

import (
	"os"

	"github.com/kimhsiao/fitsync/backend/internal/cli"
)

// Version is set at build time
var Version = "dev"

func main() {
	cli.SetVersion(Version)

	if err := cli.Execute(); err != nil {
		cli.PrintError(err.Error())
		os.Exit(1)
	}
}
