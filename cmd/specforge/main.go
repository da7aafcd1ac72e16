package main

import (
	"os"

	"github.com/specforge/specforge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
