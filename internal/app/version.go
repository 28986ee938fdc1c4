package app

import (
	"fmt"
	"io"
	"runtime"
)

// Build metadata, overridden with -ldflags "-X github.com/agbru/fibpipe/internal/app.Version=...".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// HasVersionFlag reports whether args request the version banner.
func HasVersionFlag(args []string) bool {
	for _, a := range args {
		if a == "--" {
			return false
		}
		if a == "--version" || a == "-version" || a == "-V" {
			return true
		}
	}
	return false
}

// PrintVersion writes the version banner to w.
func PrintVersion(w io.Writer, program string) {
	fmt.Fprintf(w, "%s %s (commit %s, built %s, %s %s/%s)\n",
		program, Version, Commit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
