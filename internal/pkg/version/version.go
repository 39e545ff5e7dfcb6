// Package version reports the build of the recorder binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X .../version.Version=v1.2.0 -X .../version.GitCommit=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	if GitCommit != "unknown" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			GitCommit = s.Value
		case "vcs.time":
			if BuildDate == "unknown" {
				BuildDate = s.Value
			}
		}
	}
}

// GetVersion is the release version
func GetVersion() string {
	return Version
}

// GetShortVersion appends the abbreviated commit when one is known
func GetShortVersion() string {
	if len(GitCommit) > 7 && GitCommit != "unknown" {
		return Version + "-" + GitCommit[:7]
	}
	return Version
}

// GetFullVersion includes commit, build date and platform
func GetFullVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s, %s %s/%s)",
		Version, GitCommit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
