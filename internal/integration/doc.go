// Package integration runs the installer end to end against temporary
// directory layouts, a local HTTP server and stand-in elevation helpers.
package integration
