// Package version reports the dmypyls build, as stamped by ldflags:
//
//	go build -ldflags "-X github.com/teranos/dmypyls/version.Version=v0.3.0 \
//	  -X github.com/teranos/dmypyls/version.CommitHash=$(git rev-parse HEAD)"
package version

import (
	"fmt"
	"runtime"
)

// Build information. These variables are set at build time via ldflags.
var (
	CommitHash = "dev"
	BuildTime  = "unknown"
	// Version is the release tag, "dev" for untagged builds
	Version = "dev"
)

// Protocol is the LSP version the server speaks.
const Protocol = "3.16"

// Info contains version and build information
type Info struct {
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	Version    string `json:"version"`
	Protocol   string `json:"lsp_protocol"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// Get returns the current version information
func Get() Info {
	return Info{
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		Version:    Version,
		Protocol:   Protocol,
		GoVersion:  runtime.Version(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns a human-readable version string
func (i Info) String() string {
	return fmt.Sprintf("dmypyls %s (commit %s, built %s, LSP %s)", i.ServerVersion(), i.Short(), i.BuildTime, i.Protocol)
}

// ServerVersion is what editors and MCP clients are told: the release tag, or
// dev+<commit> for untagged builds so bug reports still identify the build.
func (i Info) ServerVersion() string {
	if i.Version != "dev" {
		return i.Version
	}
	if i.CommitHash == "dev" {
		return "dev"
	}
	return "dev+" + i.Short()
}

// Short returns a short version string with just the commit hash
func (i Info) Short() string {
	if len(i.CommitHash) >= 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}
