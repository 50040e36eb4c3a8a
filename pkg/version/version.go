// Package version exposes build metadata stamped at link time.
package version

// Build metadata, overridden via -ldflags at release time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
