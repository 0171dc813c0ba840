// Package version provides the pytrace tool version.
package version

// Version is the pytrace tool version.
// Can be overridden at build time with:
//
//	go build -ldflags "-X github.com/jaredpalmer/pytrace/pkg/version.Version=1.2.0"
var Version = "dev"
