package main

import (
	"os"

	"digital.vasic.brocoli/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
