package main

import (
	"os"

	"github.com/memsift/memsift/cmd/memsift/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
