// Package main is the entry point for the Vigil threat detection engine.
package main

import (
	"fmt"
	"os"

	"vigil/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
