package main

import "stripekit/internal/cli"

// Populated by ldflags at build time
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cli.Version, cli.Commit, cli.BuildTime = version, commit, date
	cli.Execute()
}
