// Package buildinfo exposes the version metadata stamped into the
// binary with -ldflags, for example:
//
//	go build -ldflags "-X github.com/nugget/tubeblog/internal/buildinfo.Version=v0.3.0"
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// Info is the build and runtime description served by /v1/version and
// printed by "tubeblog version".
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	GitBranch string `json:"git_branch"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Uptime    string `json:"uptime,omitempty"`
}

// Get returns the static build metadata. Uptime is left empty.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		GitBranch: GitBranch,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Runtime returns Get with the process uptime filled in.
func Runtime() Info {
	info := Get()
	info.Uptime = time.Since(startTime).Truncate(time.Second).String()
	return info
}

// UserAgent is sent on every outbound provider request.
func UserAgent() string {
	return "tubeblog/" + Version
}

func (i Info) String() string {
	return fmt.Sprintf("tubeblog %s (%s@%s) built %s, %s %s",
		i.Version, i.GitCommit, i.GitBranch, i.BuildTime, i.GoVersion, i.Platform)
}
