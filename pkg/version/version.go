// Package version contains the symbolic version of this code.
package version

// Version is set at build time with -ldflags.
var Version = "v0.1.0-dev"
