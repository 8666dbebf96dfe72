// Package version reports build information for the kadali binaries.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time via -ldflags "-X github.com/rzbill/kadali/pkg/version.Version=...".
var (
	Version   = "dev"
	BuildTime = "unknown"
	Commit    = "unknown"
)

// ShortCommit returns the first eight characters of Commit.
func ShortCommit() string {
	if len(Commit) > 8 {
		return Commit[:8]
	}
	return Commit
}

// Info returns a one-line description of the binary, prefixed with name.
func Info(name string) string {
	return fmt.Sprintf("%s %s (%s) - %s %s/%s",
		name,
		Version,
		ShortCommit(),
		BuildTime,
		runtime.GOOS,
		runtime.GOARCH,
	)
}

// Map returns version information as a map, for structured output.
func Map() map[string]string {
	return map[string]string{
		"version":   Version,
		"commit":    Commit,
		"buildTime": BuildTime,
		"goVersion": runtime.Version(),
		"os":        runtime.GOOS,
		"arch":      runtime.GOARCH,
	}
}
