// Package installed detects the application currently deployed on the host.
//
// The FileRepository reads the vendor build metadata from an ordered list of
// install roots and falls back to detecting the executable alone when the
// metadata is missing or unreadable. Nothing is cached: every Load probes the
// filesystem again.
package installed
