package main

import (
	"os"

	"github.com/alexander-jackson/fisherman/internal/cli"
)

var version = "devel"

func main() {
	cli.Run(version, os.Args)
}
