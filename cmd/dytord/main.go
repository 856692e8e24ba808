package main

import (
	"os"

	"github.com/scaredginger/dytor/cmd/dytord/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
