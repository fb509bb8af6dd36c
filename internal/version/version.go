// Package version carries build metadata stamped in by the release
// pipeline via -ldflags. A development build reports "dev (unknown)".
package version

import "fmt"

var (
	// Version is the release tag, e.g. "0.3.0".
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// String renders the version the way the daemon logs it at startup.
func String() string {
	return fmt.Sprintf("%s (%s)", Version, GitSHA)
}
