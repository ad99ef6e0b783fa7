// Package version reports how the sourcepack binary was built.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags, e.g.
// go build -ldflags "-X 'sourcepack/pkg/version.Version=1.2.3' -X 'sourcepack/pkg/version.Commit=abcdefg'"
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// Info describes one build.
type Info struct {
	Version   string
	GitCommit string
	BuildTime string
	Modified  bool // built from a dirty work tree
	GoVersion string
	Platform  string
}

// Get returns the build information. Values left at their defaults are filled
// from the module and VCS data the go tool embeds, so "go install" and plain
// "go build" binaries still report something useful.
func Get() Info {
	info := Info{
		Version:   Version,
		GitCommit: Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fillFromBuildInfo(&info, bi)
	}
	return info
}

func fillFromBuildInfo(info *Info, bi *debug.BuildInfo) {
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "none" {
				info.GitCommit = shortRevision(s.Value)
			}
		case "vcs.time":
			if info.BuildTime == "unknown" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// String formats the build on one line:
// sourcepack version 1.2.3 (commit: abcdefg) built at 2026-01-02T15:04:05Z with go1.24.0 on linux/amd64
func (i Info) String() string {
	commit := i.GitCommit
	if i.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("sourcepack version %s (commit: %s) built at %s with %s on %s",
		i.Version, commit, i.BuildTime, i.GoVersion, i.Platform)
}
