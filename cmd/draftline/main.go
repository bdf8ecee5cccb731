package main

import (
	"os"

	"github.com/draftline-systems/draftline/cmd/draftline/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
