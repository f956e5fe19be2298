// Package version exposes the build version.
package version

// Version is the current release, overridable at build time with
// -ldflags "-X github.com/skystarved/foreman/internal/version.Version=...".
var Version = "0.1.0"

// Get returns the current version
func Get() string {
	return Version
}
