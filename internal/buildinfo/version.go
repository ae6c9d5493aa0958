// Package buildinfo holds the module's version string, adapted from the
// teacher's version package (version/version.go), trimmed to the one
// field this CLI actually surfaces (a --version flag has no use for
// separate commit/build-time fields when there is no release pipeline
// stamping them in).
package buildinfo

// Version is the module's version string, reported by cmd/fcgid-serve's
// --version flag.
const Version = "0.1.0"
