// Package install contains the core domain types of an installation attempt.
//
// It defines the archive candidate, the resolved vendor version, the
// installed state, the bound transaction parameters, the terminal outcome of
// an operation and the events streamed to the presentation layer, together
// with the error taxonomy every component wraps its failures in.
package install
