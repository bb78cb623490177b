// Package main is the entry point for the bparchive stream archiver.
package main

import (
	"fmt"
	"os"

	"lscat.org/bparchive/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
