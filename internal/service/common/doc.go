// Package common holds helpers shared by several services.
//
// It provides an HTTP client wrapper with the installer's timeout policy
// (bounded metadata calls, socket-only timeouts for streamed downloads) and
// a helper to detect the current system actor (hostname/username) for the
// audit trail.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
