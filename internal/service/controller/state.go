package controller

import (
	"errors"
	"fmt"
	"slices"
)

// State is the controller's position in the installation flow.
type State int

const (
	// StateIdle is the initial state, and the state after an aborted scan.
	StateIdle State = iota
	// StateScanning inspects the host.
	StateScanning
	// StateReadyToInstall has a candidate archive in hand.
	StateReadyToInstall
	// StateReadyToDownload will fetch the latest archive first.
	StateReadyToDownload
	// StateBlocked cannot proceed; the status message says why.
	StateBlocked
	// StateDownloading resolves and downloads the latest archive.
	StateDownloading
	// StateInstalling runs the privileged transaction.
	StateInstalling
	// StateDone means the last attempt succeeded.
	StateDone
	// StateFailed means the last attempt failed.
	StateFailed
	// StateCancelled means the last attempt was stopped by the user.
	StateCancelled
)

var (
	// ErrInvalidTransition is returned for a transition the table does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrBusy is returned when a download or an installation is in flight.
	ErrBusy = errors.New("controller is busy")
	// ErrNotCancellable is returned when cancelling a running installation.
	ErrNotCancellable = errors.New("installation cannot be cancelled")
	// ErrNothingToCancel is returned when no download is in flight.
	ErrNothingToCancel = errors.New("nothing to cancel")
)

// transitions lists the legal successors of every state.
var transitions = map[State][]State{
	StateIdle:            {StateScanning},
	StateScanning:        {StateIdle, StateReadyToInstall, StateReadyToDownload, StateBlocked},
	StateReadyToInstall:  {StateScanning, StateInstalling},
	StateReadyToDownload: {StateScanning, StateDownloading},
	StateBlocked:         {StateScanning},
	StateDownloading:     {StateReadyToInstall, StateInstalling, StateFailed, StateCancelled},
	StateInstalling:      {StateDone, StateFailed, StateCancelled},
	StateDone:            {StateScanning},
	StateFailed:          {StateScanning, StateDownloading, StateInstalling},
	StateCancelled:       {StateScanning, StateDownloading, StateInstalling},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// Busy reports whether the state has work in flight.
func (s State) Busy() bool {
	return s == StateScanning || s == StateDownloading || s == StateInstalling
}

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateReadyToInstall:
		return "ready-to-install"
	case StateReadyToDownload:
		return "ready-to-download"
	case StateBlocked:
		return "blocked"
	case StateDownloading:
		return "downloading"
	case StateInstalling:
		return "installing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
