package main

import (
	"os"

	"zotregistry.dev/tagprune/pkg/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
