// Package downloader streams the vendor archive to disk on a background
// goroutine.
//
// A transfer writes into a ".part" file next to the destination, reports
// progress between 10 and 90 percent, and renames the file into place only
// after its size matches what the server announced. Cancellation is checked
// at every chunk boundary and always removes the partial file.
package downloader
