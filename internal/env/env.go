// Package env holds build-time metadata, overridden via -ldflags at release
// build time (e.g. -X github.com/dsyntax/diskfsd/internal/env.Version=1.2.3).
package env

const AppName = "diskfsd"

var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildTime  = "unknown"
)
