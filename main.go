package main

import (
	"os"

	"github.com/compozy/notebook/cli"
)

func main() {
	if err := cli.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
