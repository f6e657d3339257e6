// Package probe wraps the host checks the controller runs during a scan:
// the user's downloads directory, free space under the install root,
// availability of the elevation helper and network reachability.
package probe
