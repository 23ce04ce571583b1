package main

import (
	"os"

	"github.com/jamiemulcahy/yart/cmd/retro-watch/commands"
)

// Version information - set during build
var version = "dev"

func main() {
	commands.SetVersion(version)
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
