package main

import (
	"os"

	"github.com/stockcheck/stockcheck/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
