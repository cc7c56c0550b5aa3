// Package version reports the build identity of the cochange binary.
package version

import (
	"runtime/debug"
	"sync"
)

const unknown = "unknown"

// Set with -ldflags "-X github.com/Sumatoshi-tech/cochange/pkg/version.Version=...".
var (
	Version = "dev"
	Commit  = unknown
	Date    = unknown
)

var initOnce sync.Once

// Init fills Version, Commit and Date from the embedded build info when they
// were not set at link time. It is safe to call more than once.
func Init() {
	initOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}

		fromBuildInfo(info)
	})
}

func fromBuildInfo(info *debug.BuildInfo) {
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == unknown {
				Commit = s.Value
			}
		case "vcs.time":
			if Date == unknown {
				Date = s.Value
			}
		}
	}
}

// String formats the identity as printed by the version command.
func String() string {
	return Version + " (commit: " + Commit + ", built: " + Date + ")"
}
