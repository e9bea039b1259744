package main

import "fmt"

// Version is the daemon's release version, reported by the "version"
// subcommand.
const Version = "0.1.0"

// RunCLI handles subcommand execution. Returns true if a subcommand was
// handled, meaning main should not proceed to start the daemon.
func RunCLI(args []string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("soundd %s\n", Version)
		return true
	default:
		return false
	}
}
