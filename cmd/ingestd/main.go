package main

import (
	"os"

	"github.com/neurostream-systems/neurostream/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
