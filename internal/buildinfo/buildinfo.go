// Package buildinfo reports which build of the tools is running.
//
// Release builds inject Version, Commit and Date with -ldflags. Builds from
// source (go install, go build in a checkout) leave them empty, and the module
// version and VCS stamps recorded by the Go toolchain are used instead.
package buildinfo

import (
	"runtime/debug"
	"strings"
)

// Set at build time via -ldflags "-X ...".
var (
	Version = ""
	Commit  = ""
	Date    = ""
)

const shortCommit = 12

// Info describes one build.
type Info struct {
	Version  string
	Commit   string
	Date     string
	Modified bool
}

// Current merges the ldflags values with what the toolchain embedded.
// Values from ldflags win.
func Current() Info {
	bi, _ := debug.ReadBuildInfo()
	return merge(Info{Version: Version, Commit: Commit, Date: Date}, bi)
}

func merge(info Info, bi *debug.BuildInfo) Info {
	if bi != nil {
		if info.Version == "" {
			if v := bi.Main.Version; v != "" && v != "(devel)" {
				info.Version = v
			}
		}
		stamped := info.Commit == ""
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if stamped {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.Date == "" {
					info.Date = s.Value
				}
			case "vcs.modified":
				info.Modified = stamped && s.Value == "true"
			}
		}
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	if len(info.Commit) > shortCommit {
		info.Commit = info.Commit[:shortCommit]
	}
	return info
}

// String renders the build as "version (commit[+dirty] date)".
func (i Info) String() string {
	var meta []string
	if i.Commit != "" {
		c := i.Commit
		if i.Modified {
			c += "+dirty"
		}
		meta = append(meta, c)
	}
	if i.Date != "" {
		meta = append(meta, i.Date)
	}
	if len(meta) == 0 {
		return i.Version
	}
	return i.Version + " (" + strings.Join(meta, " ") + ")"
}

// Summary returns Current as a single line.
func Summary() string {
	return Current().String()
}
