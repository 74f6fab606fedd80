package main

import (
	"os"

	"github.com/sitterd/sitterd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
