package main

import (
	"os"

	"strobe/cli"
)

func main() {
	os.Exit(cli.Execute())
}
