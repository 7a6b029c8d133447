package main

import (
	"os"

	"github.com/ai-educate/livetutor/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
