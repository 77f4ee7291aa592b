// Package version exposes build metadata injected at link time.
package version

import (
	"fmt"
	"strings"
)

// Build-time metadata injected via -ldflags.
// Defaults are used for local/dev builds.
var (
	AppVersion = "dev"
	GitCommit  = "unknown"
	BuildTime  = "unknown"
)

// Info describes the running binary build metadata.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// Current returns the build metadata for this binary.
func Current() Info {
	return Info{
		Version:   strings.TrimSpace(AppVersion),
		Commit:    strings.TrimSpace(GitCommit),
		BuildTime: strings.TrimSpace(BuildTime),
	}
}

// String returns a human-readable version string.
func (i Info) String() string {
	return fmt.Sprintf("pptp-agent %s (commit %s, built %s)",
		orDefault(i.Version, "dev"), orDefault(i.Commit, "unknown"), orDefault(i.BuildTime, "unknown"))
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
