package version

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Version information, BuildDate and GitCommit are set with -ldflags
var (
	Version   = "0.1.0"
	BuildDate = "development"
	GitCommit = "unknown"
)

// Info returns the version string
func Info() string {
	return Version
}

// FullInfo returns the version with build details
func FullInfo() string {
	return "classhunter " + Version + " (commit: " + GitCommit + ", built: " + BuildDate + ", build: " + BuildID() + ")"
}

var (
	buildID     string
	buildIDOnce sync.Once
)

// BuildID returns a fingerprint of the running binary: Go version, module
// path and version, and VCS settings
func BuildID() string {
	buildIDOnce.Do(func() {
		buildID = computeBuildID()
	})
	return buildID
}

func computeBuildID() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version + "-" + GitCommit
	}

	h := xxhash.New()
	_, _ = h.WriteString(info.GoVersion)
	_, _ = h.WriteString(info.Main.Path)
	_, _ = h.WriteString(info.Main.Version)
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision", "vcs.modified", "vcs.time":
			_, _ = h.WriteString(s.Key)
			_, _ = h.WriteString(s.Value)
		}
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
