// Package controller ties scanning, acquisition and installation together.
//
// The Controller is a state machine driven by one caller. Scan inspects the
// host and decides whether installation can proceed, BeginAcquireOrInstall
// downloads an archive when needed and runs the privileged transaction, and
// CancelCurrent stops an in-flight download. Every attempt streams progress,
// log lines and exactly one completion to the caller.
package controller
