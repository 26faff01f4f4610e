package version

// Overridden at build time with -ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)
