package main

import (
	"os"

	"github.com/mogaika/shared_scene/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
