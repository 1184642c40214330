// Package version reports the build's version and commit. Both values are
// stamped via -ldflags; commits fall back to the revision embedded by the Go
// toolchain when the binary was built from a checkout without stamping.
package version

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
)

var (
	// Version is stamped via -ldflags "-X .../pkg/version.Version=..."
	Version = "dev"

	// GitCommit is stamped via -ldflags "-X .../pkg/version.GitCommit=..."
	GitCommit = ""
)

// Info is the resolved version of the running binary
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
}

// Get resolves the binary's version info
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: commit(),
	}
}

// commit prefers the ldflags-stamped value and otherwise reads the vcs
// revision Go embeds in module builds.
func commit() string {
	if GitCommit != "" {
		return GitCommit
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return "unknown"
}

func (i Info) String() string {
	return fmt.Sprintf("Version: %s, GitCommit: %s", i.Version, i.GitCommit)
}

// JSON renders the info as indented JSON
func (i Info) JSON() (string, error) {
	bytes, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}
