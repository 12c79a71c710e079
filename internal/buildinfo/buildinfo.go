// Package buildinfo reports what binary is running. Values are stamped
// with -ldflags at release time; local builds fall back to the VCS
// settings the Go toolchain embeds.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// ServiceName is reported by /health and the MCP initialize handshake.
const ServiceName = "mcp-sequential-thinking-tools"

const unknown = "unknown"

// Set with -ldflags "-X github.com/nugget/seqthink/internal/buildinfo.Version=...".
var (
	Version   = "0.0.4"
	GitCommit = unknown
	GitBranch = unknown
	BuildTime = unknown
)

var startTime = time.Now()

func init() {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	fillFromVCS(bi.Settings)
}

// fillFromVCS copies vcs.revision and vcs.time into any field that was
// not stamped. A modified tree gets a "-dirty" commit suffix.
func fillFromVCS(settings []debug.BuildSetting) {
	var revision, when string
	var dirty bool
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.time":
			when = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if GitCommit == unknown && revision != "" {
		if len(revision) > 12 {
			revision = revision[:12]
		}
		if dirty {
			revision += "-dirty"
		}
		GitCommit = revision
	}
	if BuildTime == unknown && when != "" {
		BuildTime = when
	}
}

// Info returns build and runtime metadata keyed for JSON output.
func Info() map[string]string {
	return map[string]string{
		"service":    ServiceName,
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime is the time since process start, to the second.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// String is the one-line form used in logs and `seqthink version`.
func String() string {
	return fmt.Sprintf("seqthink %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}
