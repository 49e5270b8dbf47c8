// Package version carries build metadata set through -ldflags.
package version

import "fmt"

var (
	// Version is the release of the eskin host.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata for logs and -version.
func String() string {
	return fmt.Sprintf("eskin %s (%s, built %s)", Version, GitSHA, BuildTime)
}
