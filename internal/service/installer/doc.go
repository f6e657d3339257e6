// Package installer is the command-line presentation of the installation
// controller.
//
// It loads the configuration, wires the locator, downloader, transaction
// builder and executor into a controller, renders progress with a terminal
// progress bar, prints transaction output as it arrives and asks the user
// before anything privileged happens.
package installer
