// Package locator finds a usable install archive.
//
// It resolves the latest vendor release by following the download endpoint's
// redirects without fetching the body, picks the newest matching archive in a
// local directory, and can watch that directory for new archives.
package locator
