// Package main is the entry point for the epochsync CLI.
// The CLI starts, joins, and cancels shared countdowns kept in an
// epochsync-store server.
package main

import (
	"os"

	"github.com/snehjoshi/epochsync/cmd/epochsync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
