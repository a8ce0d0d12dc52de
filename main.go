package main

import (
	"os"

	"github.com/plantbuild/plantbuild/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
