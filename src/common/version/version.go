// Package version provides build version information for nvp2p.
package version

import (
	"fmt"
	"runtime"
)

// Info holds version information for the nvp2p binary.
// These values are typically set at build time via ldflags.
type Info struct {
	// Version is the full version string, e.g. "v0.3.0-4f9f297"
	Version string

	// BuildDate is the ISO 8601 build timestamp
	BuildDate string

	// GitCommit is the short git commit hash
	GitCommit string
}

// Default values for unset version info
var (
	DefaultVersion   = "dev"
	DefaultBuildDate = "unknown"
	DefaultGitCommit = "unknown"
)

// New creates a new Info with default values
func New() *Info {
	return &Info{
		Version:   DefaultVersion,
		BuildDate: DefaultBuildDate,
		GitCommit: DefaultGitCommit,
	}
}

// GoVersion returns the Go runtime version
func GoVersion() string {
	return runtime.Version()
}

// String returns the full version string
func (i *Info) String() string {
	return i.Version
}

// Full returns a detailed multi-line version string
func (i *Info) Full() string {
	return fmt.Sprintf(`nvp2p %s
  Build Date: %s
  Git Commit: %s
  Go Version: %s`,
		i.Version,
		i.BuildDate,
		i.GitCommit,
		GoVersion(),
	)
}
