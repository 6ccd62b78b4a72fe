// Package version holds build metadata injected at link time.
package version

import "fmt"

// Set via -ldflags "-X trustproxy/internal/version.Version=..." at build.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a single-line human-readable version string.
func Info() string {
	return fmt.Sprintf("trustproxy %s (commit %s, built %s)", Version, Commit, Date)
}
