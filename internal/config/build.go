package config

import (
	"fmt"
	"os"
)

// Set with -ldflags, for example:
//
//	go build -ldflags "-X orderpush/internal/config.version=1.2.3 \
//	    -X orderpush/internal/config.commit=$(git rev-parse --short HEAD)"
//
// Source deployments build without ldflags, so the platform revision is the
// only identifier in that case.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo reads the linker variables and K_REVISION.
func NewBuildInfo() BuildInfo {
	return newBuildInfo(os.LookupEnv)
}

func newBuildInfo(lookup envLookup) BuildInfo {
	info := BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
	info.Revision, _ = lookup("K_REVISION")
	return info
}

// String renders the build for the cold-start log line.
func (b BuildInfo) String() string {
	s := fmt.Sprintf("%s (%s, %s)", b.Version, b.Commit, b.BuildTime)
	if b.Revision != "" {
		s += " rev " + b.Revision
	}
	return s
}
