package main

import (
	"os"

	"github.com/cdpfleet/cdpfleet/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
