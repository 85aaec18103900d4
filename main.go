package main

import (
	"os"

	"github.com/quenchlab/facet/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
