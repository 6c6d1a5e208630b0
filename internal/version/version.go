package version

import (
	"runtime/debug"
	"sync"
)

// Set with -ldflags "-X github.com/fmueller/holaamigo/internal/version.Version=..."
var (
	Version = "0.1.0"
	Commit  = "unknown"
	Date    = "unknown"
)

var (
	resolveOnce sync.Once
	resolved    string
)

// Resolve returns Version, suffixed with the short commit for builds that do
// not come from a release pipeline. Commit wins over the VCS stamp the go tool
// embeds; a modified work tree adds "-dirty".
func Resolve() string {
	resolveOnce.Do(func() {
		resolved = resolveVersion(Version, Commit, readBuildInfo)
	})
	return resolved
}

// UserAgent identifies the server on outgoing requests such as model downloads.
func UserAgent() string {
	return "holaamigo/" + Resolve()
}

type buildStamp struct {
	revision string
	modified bool
}

func readBuildInfo() (buildStamp, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return buildStamp{}, false
	}
	var stamp buildStamp
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			stamp.revision = s.Value
		case "vcs.modified":
			stamp.modified = s.Value == "true"
		}
	}
	return stamp, stamp.revision != ""
}

func resolveVersion(base, commit string, stamp func() (buildStamp, bool)) string {
	if base == "" {
		base = "0.0.0"
	}

	if commit != "" && commit != "unknown" {
		return base + "+" + shortRevision(commit)
	}

	s, ok := stamp()
	if !ok {
		return base
	}
	v := base + "-dev." + shortRevision(s.revision)
	if s.modified {
		v += "-dirty"
	}
	return v
}

func shortRevision(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
