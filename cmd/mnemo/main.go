package main

import (
	"os"

	"github.com/Jackela/Novel-Engine-sub016/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
