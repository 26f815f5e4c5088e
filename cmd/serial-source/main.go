package main

import (
	"os"

	"github.com/luhtfiimanal/serial-source/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
