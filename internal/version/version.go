package version

import "fmt"

// Populated at build time with -ldflags "-X concord/internal/version.Version=..."
var (
	Version    = "devel"
	CommitHash = "unknown"
)

func GetVersionString() string {
	return fmt.Sprintf("%s (commit %s)", Version, CommitHash)
}
