// Package main is the entry point for the webplayer CLI.
package main

import (
	"os"

	"github.com/zzzwannasleep/WebPlayer/cmd/webplayer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
