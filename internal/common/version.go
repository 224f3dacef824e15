package common

import "fmt"

// Version variables injected at build time via ldflags.
var (
	Version = "0.6.0"
	Build   = "unknown"
)

// GetVersion returns the semantic version string. It is stamped into every
// sync_batch row so the delta log can be correlated with engine revisions.
func GetVersion() string {
	return Version
}

// GetFullVersion returns a formatted version string with build info.
func GetFullVersion() string {
	return fmt.Sprintf("%s (build: %s)", Version, Build)
}
