package version

import "runtime"

// Set at build time with -ldflags "-X github.com/xcofdk/xcofdk-py-sub004/internal/version.Version=...".
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// GoVersion returns the Go runtime version string.
func GoVersion() string { return runtime.Version() }
