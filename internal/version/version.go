// Package version carries the pricepulse build identity, stamped via
// -ldflags at release time.
package version

import "fmt"

var (
	// Version is the semantic version of the pricepulse binary.
	Version = "dev"
	// Commit is the git commit hash the binary was built from.
	Commit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// String renders the build identity for the version command and startup
// logs.
func String() string {
	return fmt.Sprintf("pricepulse %s (commit %s, built %s)", Version, Commit, BuildDate)
}
