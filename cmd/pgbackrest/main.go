package main

import (
	"fmt"
	"os"

	"github.com/moizpgedge/pgbackrest/internal/cmd"
)

// Build-time version metadata, injected via -ldflags.
var (
	version   = "dev"
	commit    = "HEAD"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pgbackrest:", err)
		os.Exit(1)
	}
}
