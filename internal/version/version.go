// Package version holds the sfbulk build information, set with -ldflags -X.
package version

import "runtime"

var (
	// Version is the release tag, or "dev" for local builds.
	Version = "dev"

	// Commit is the source revision.
	Commit = "unknown"

	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// Info returns the version string
func Info() string {
	return Version
}

// Full returns the version with commit, build date and Go runtime.
func Full() string {
	return Version + " (commit: " + Commit + ", built: " + BuildDate + ", " + runtime.Version() + ")"
}

// UserAgent identifies sfbulk on Bulk API requests.
func UserAgent() string {
	return "sfbulk/" + Version
}
