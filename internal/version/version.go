// Package version holds the specforge version information.
// This is a separate package to avoid import cycles - it has no dependencies
// and can be safely imported from any package.
package version

import "fmt"

var (
	// Version information - set via ldflags during build
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String returns the full version line shown by the version command.
func String() string {
	return fmt.Sprintf("specforge %s (commit %s, built %s)", Version, Commit, BuildDate)
}

// IsDevBuild returns true if running a development build (not a release).
func IsDevBuild() bool {
	return Version == "dev"
}
