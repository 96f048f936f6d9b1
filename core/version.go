package core

// Version information for apiflow
var (
	// Version is the current release, set with -ldflags at build time
	Version = "development"

	// BuildDate is set during build time
	BuildDate = "development"

	// GitCommit is set during build time
	GitCommit = "unknown"
)
