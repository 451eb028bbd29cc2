// Package main provides budgetctl, a command line client that drives the
// budget approval workflow directly against the configured SQLite store.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := execute(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
