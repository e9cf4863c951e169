package main

import (
	"os"

	"github.com/lwp001/mixlab/cmd/mixlab/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
