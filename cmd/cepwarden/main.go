package main

import (
	"os"

	"github.com/solatis/cepwarden/cmd/cepwarden/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
