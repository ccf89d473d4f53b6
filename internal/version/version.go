// Package version provides the version string for the usufruit binaries and
// the client/server compatibility rule.
package version

import (
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the current release version.
// This is a var (not const) so ldflags -X can override it at build time.
var Version = "dev"

// String returns the version with a single 'v' prefix for display.
// Handles cases where Version already has 'v' prefix (from git tags)
// or has no prefix (dev builds, snapshots).
func String() string {
	v := strings.TrimPrefix(Version, "v")
	return "v" + v
}

// Normalize ensures a version string has the v prefix required by semver.
func Normalize(v string) string {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// Compatible reports whether a client at version client can talk to a
// server at version server. Versions that are not valid semver (dev
// builds) are always compatible. Otherwise the major versions must match,
// and before v1 the minor versions must match too.
func Compatible(client, server string) bool {
	c, s := Normalize(client), Normalize(server)
	if !semver.IsValid(c) || !semver.IsValid(s) {
		return true
	}
	if semver.Major(c) != semver.Major(s) {
		return false
	}
	if semver.Major(c) == "v0" {
		return semver.MajorMinor(c) == semver.MajorMinor(s)
	}
	return true
}

// Newer reports whether latest is a newer release than current.
func Newer(current, latest string) bool {
	c, l := Normalize(current), Normalize(latest)
	if !semver.IsValid(c) || !semver.IsValid(l) {
		return false
	}
	return semver.Compare(c, l) < 0
}
