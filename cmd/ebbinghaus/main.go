package main

import (
	"os"

	"ebbinghaus/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
