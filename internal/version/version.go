// Package version carries build metadata stamped in with -ldflags.
package version

import "fmt"

var (
	Version = "v0.1.0"
	Commit  = "unknown"
	BuiltAt = "unknown"
)

// Info returns the short version string.
func Info() string {
	return Version
}

// FullInfo returns version, commit and build time on one line.
func FullInfo() string {
	return fmt.Sprintf("version=%s commit=%s built_at=%s", Version, Commit, BuiltAt)
}

// UserAgent is sent by the API client.
func UserAgent() string {
	return "betty/" + Version
}
