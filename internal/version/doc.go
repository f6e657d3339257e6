// Package version exposes build metadata for the installer.
//
// Variables Version, Commit, and BuildTime are injected at build time via
// Go ldflags. Short is embedded in the rendered transaction header and the
// HTTP user agent; Full backs the `version` command.
package version
