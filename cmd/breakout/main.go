package main

import (
	"os"

	"github.com/rustyeddy/breakout/cmd/breakout/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
