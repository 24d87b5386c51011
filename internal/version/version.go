// Package version carries build metadata injected with -ldflags, e.g.
//
//	-X github.com/GoCodeAlone/deepagent/internal/version.Version=v0.3.0
package version

import "fmt"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String formats the build metadata for --version output.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate)
}
