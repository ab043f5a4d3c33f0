// Package version holds build information injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set at build time:
//
//	-ldflags "-X github.com/modemd/internal/version.Version=1.2.0"
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Info is the build description reported by --version and /api/health.
type Info struct {
	Version   string
	GitCommit string
	BuildTime string
	GoVersion string
}

// Get returns the build information. A dev build falls back to the VCS
// revision the Go toolchain stamped into the binary.
func Get() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
	if GitCommit != "unknown" {
		return info
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if len(s.Value) > 12 {
				info.GitCommit = s.Value[:12]
			} else {
				info.GitCommit = s.Value
			}
		case "vcs.time":
			if BuildTime == "unknown" {
				info.BuildTime = s.Value
			}
		}
	}
	if info.Version == "dev" && info.GitCommit != "unknown" {
		info.Version = "dev-" + info.GitCommit
	}
	return info
}

// String formats the information on one line.
func (i Info) String() string {
	s := i.Version
	switch {
	case i.BuildTime != "unknown" && i.GitCommit != "unknown":
		s += fmt.Sprintf(" (built %s, commit %s)", i.BuildTime, i.GitCommit)
	case i.GitCommit != "unknown":
		s += fmt.Sprintf(" (commit %s)", i.GitCommit)
	}
	return s + " " + i.GoVersion
}
