// Package version holds build information and parses agent version strings.
package version

import (
	"regexp"
	"strconv"
	"strings"
)

// Build information (set via ldflags in production builds)
var (
	Version   = "dev"
	BuildTime = ""
	GitCommit = ""
)

// Semver is a parsed agent version. Development builds ("dev",
// "dev-<commit>") and unparseable strings have no numbers.
type Semver struct {
	Major      int
	Minor      int
	Patch      int
	Prerelease string // "beta", "rc1", or "dev" for development builds
	Metadata   string // commit for "dev-<commit>", build metadata otherwise
}

var semverPattern = regexp.MustCompile(`^(\d+)(?:\.(\d+))?(?:\.(\d+))?(?:-([0-9A-Za-z.-]+))?(?:\+([0-9A-Za-z.-]+))?$`)

// Parse parses "v1.2.3", "1.2.3-rc1+build", "dev" and "dev-abc1234".
func Parse(s string) Semver {
	s = strings.TrimPrefix(s, "v")

	if s == "dev" || strings.HasPrefix(s, "dev-") {
		v := Semver{Prerelease: "dev"}
		v.Metadata = strings.TrimPrefix(strings.TrimPrefix(s, "dev"), "-")
		return v
	}

	m := semverPattern.FindStringSubmatch(s)
	if m == nil {
		return Semver{Prerelease: "unknown"}
	}
	v := Semver{Prerelease: m[4], Metadata: m[5]}
	v.Major, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		v.Minor, _ = strconv.Atoi(m[2])
	}
	if m[3] != "" {
		v.Patch, _ = strconv.Atoi(m[3])
	}
	return v
}

// IsDev reports whether v is a development or unrecognised build.
func (v Semver) IsDev() bool {
	return v.Prerelease == "dev" || v.Prerelease == "unknown"
}

func (v Semver) String() string {
	if v.IsDev() {
		if v.Metadata != "" {
			return "dev-" + v.Metadata
		}
		return "dev"
	}
	s := strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor) + "." + strconv.Itoa(v.Patch)
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	return s
}

// Environment names the release channel a version belongs to, as reported
// with crash reports.
func Environment(s string) string {
	v := Parse(s)
	switch {
	case v.IsDev():
		return "development"
	case v.Prerelease != "":
		return "prerelease"
	default:
		return "production"
	}
}
