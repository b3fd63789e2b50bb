package tls

import "golang.org/x/mod/semver"

// Version information for the thread-local storage engine.
const (
	// Version is the current version of the engine.
	Version = "0.3.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 3

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides runtime information about the engine.
type Info struct {
	// Version is the engine version string.
	Version string

	// Resolution describes how accesses find their storage.
	Resolution string

	// Identity is the source of thread identity.
	Identity string
}

// GetInfo returns information about the engine.
//
// Example:
//
//	info := tls.GetInfo()
//	fmt.Printf("threadlocal %s (%s)\n", info.Version, info.Resolution)
func GetInfo() Info {
	return Info{
		Version:    Version,
		Resolution: "per-access, lock-free",
		Identity:   "goroutine ID, OS-thread pinned",
	}
}

// Compatible reports whether the engine satisfies a dependency on version
// required, such as "v0.2.0": same major version, and not older.
func (i Info) Compatible(required string) bool {
	have := "v" + i.Version
	if !semver.IsValid(required) || !semver.IsValid(have) {
		return false
	}
	return semver.Major(have) == semver.Major(required) && semver.Compare(have, required) >= 0
}
