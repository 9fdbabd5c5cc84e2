package version

import (
	"fmt"
	"runtime/debug"
)

var (
	// Version is set with -ldflags at build time.
	Version = "dev"
	Commit  = "unknown"
	// BuildDate is an RFC3339 timestamp.
	BuildDate = "unknown"
)

// String renders the build information; VCS metadata embedded by the toolchain fills unset fields.
func String() string {
	commit, built := Commit, BuildDate
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			switch {
			case s.Key == "vcs.revision" && commit == "unknown":
				commit = s.Value
			case s.Key == "vcs.time" && built == "unknown":
				built = s.Value
			}
		}
	}
	return fmt.Sprintf("offerwatch %s (commit %s, built %s)", Version, commit, built)
}
