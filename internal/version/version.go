// Package version reports the objsync build version and the install command
// for a given release.
package version

import (
	"fmt"
	"regexp"
	"runtime/debug"
	"strings"

	"github.com/marcus/objsync/pkg/remote"
)

const modulePath = "github.com/marcus/objsync"

// Version is set at build time with
// -ldflags "-X github.com/marcus/objsync/internal/version.Version=v1.2.3".
var Version = "dev"

// Current returns Version, falling back to the module version recorded by
// `go install` when no version was stamped in.
func Current() string {
	if !IsDevelopmentVersion(Version) {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return Version
}

// String describes the build, e.g. "objsync v1.2.0 (client 0.3.0)".
func String() string {
	return fmt.Sprintf("objsync %s (client %s)", Current(), remote.Version)
}

// IsDevelopmentVersion returns true for non-release versions.
func IsDevelopmentVersion(v string) bool {
	if v == "" || v == "unknown" || v == "dev" || v == "devel" {
		return true
	}
	return strings.HasPrefix(v, "devel+")
}

// validVersionRegex matches valid semver versions (v1.2.3, v1.2.3-beta, etc.)
// Prerelease identifiers must be alphanumeric, separated by dots or hyphens.
var validVersionRegex = regexp.MustCompile(`^v?\d+\.\d+\.\d+(-[a-zA-Z0-9]+([.-][a-zA-Z0-9]+)*)?$`)

// UpdateCommand generates the go install command for a release.
// Returns empty string if version is invalid (prevents shell injection).
func UpdateCommand(version string) string {
	if !validVersionRegex.MatchString(version) {
		return ""
	}
	return fmt.Sprintf(
		"go install -ldflags \"-X %s/internal/version.Version=%s\" %s@%s",
		modulePath, version, modulePath, version,
	)
}
