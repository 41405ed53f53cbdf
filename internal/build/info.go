package build

import "fmt"

// Set at link time:
//
//	-ldflags "-X github.com/shaharia-lab/dealnotify/internal/build.Version=v1.2.0"
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildDate = "unknown"
)

// String formats the build info for the version command.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, CommitSHA, BuildDate)
}

// UserAgent is sent on outbound provider requests.
func UserAgent() string {
	return "dealnotify/" + Version
}
