package main

import (
	"os"

	"github.com/pkgw/tectonopedia-ng/cmd/ttpedia/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
