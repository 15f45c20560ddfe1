// Package main is the entry point for the tankidecode capture decoder.
package main

import (
	"fmt"
	"os"

	"github.com/valerka1292/tankidecode/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
