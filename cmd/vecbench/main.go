package main

import (
	"os"

	"github.com/xupit3r/vecbench/cmd/vecbench/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
