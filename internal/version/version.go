// Package version holds the build-time identity printed by --version.
package version

// Version is the mb release tag.
const Version = "0.3.0"

// ProgramName is the name used in usage text and the User-Agent header.
const ProgramName = "mb"

// Backend names the reactor implementation compiled into this binary, the
// Go analogue of the original's aeGetApiName().
const Backend = "epoll"
