package main

import "testing"

func TestRunCLIVersion(t *testing.T) {
	if !RunCLI([]string{"version"}) {
		t.Fatal("expected version subcommand to be handled")
	}
}

func TestRunCLIUnknownSubcommand(t *testing.T) {
	if RunCLI([]string{"bogus"}) {
		t.Fatal("expected unknown subcommand to be unhandled")
	}
}

func TestRunCLINoArgs(t *testing.T) {
	if RunCLI(nil) {
		t.Fatal("expected no args to be unhandled")
	}
}
