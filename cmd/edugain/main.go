package main

import (
	"os"

	"github.com/reponaut/edugain/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
