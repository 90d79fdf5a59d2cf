// Package version holds build metadata stamped in with -ldflags:
//
//	go build -ldflags "-X github.com/banshee-data/swingbot/internal/version.Version=v0.3.0"
package version

import "fmt"

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String formats the build metadata for startup logs.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
