package install

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every component.
var (
	// ErrResolution means the latest version or URL could not be determined.
	ErrResolution = errors.New("resolution failure")
	// ErrNoVersionFound means the resolved file name carries no version token.
	ErrNoVersionFound = fmt.Errorf("%w: no version found", ErrResolution)
	// ErrTransfer is a network or storage error during download.
	ErrTransfer = errors.New("transfer failure")
	// ErrValidation means the archive is missing or corrupt.
	ErrValidation = errors.New("validation failure")
	// ErrPrerequisite means the host cannot run the installation.
	ErrPrerequisite = errors.New("prerequisite failure")
	// ErrAuthDeclined means the user rejected elevation.
	ErrAuthDeclined = errors.New("authorization declined")
	// ErrTransaction means the privileged transaction exited non-zero.
	ErrTransaction = errors.New("transaction failure")
	// ErrTimeout means the privileged transaction ran out of time.
	ErrTimeout = errors.New("transaction timed out")
	// ErrCancelled means the user cancelled the operation.
	ErrCancelled = errors.New("cancelled by user")
)

// OutcomeKind is the terminal result class of an asynchronous operation.
type OutcomeKind int

const (
	// OutcomeSuccess means the operation completed.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeCancelledByUser means the user stopped the operation.
	OutcomeCancelledByUser
	// OutcomeAuthDenied means the elevation helper reported a declined authorization.
	OutcomeAuthDenied
	// OutcomeTimedOut means the operation hit its deadline.
	OutcomeTimedOut
	// OutcomeFailed means the operation failed; Detail carries the cause.
	OutcomeFailed
)

// String returns the outcome name.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeCancelledByUser:
		return "cancelled"
	case OutcomeAuthDenied:
		return "auth-declined"
	case OutcomeTimedOut:
		return "timeout"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the terminal result of one operation.
type Outcome struct {
	// Kind classifies the result.
	Kind OutcomeKind
	// Detail explains failures; empty on success.
	Detail string
	// Err is the underlying error, if any.
	Err error
}

// Success reports whether the outcome is a success.
func (o Outcome) Success() bool {
	return o.Kind == OutcomeSuccess
}

// Retryable reports whether the caller can simply offer the action again
// without implying anything was damaged.
func (o Outcome) Retryable() bool {
	return o.Kind == OutcomeCancelledByUser || o.Kind == OutcomeAuthDenied || o.Kind == OutcomeTimedOut
}

// Error converts the outcome into an error from the taxonomy, nil on success.
func (o Outcome) Error() error {
	var base error

	switch o.Kind {
	case OutcomeSuccess:
		return nil
	case OutcomeCancelledByUser:
		base = ErrCancelled
	case OutcomeAuthDenied:
		base = ErrAuthDeclined
	case OutcomeTimedOut:
		base = ErrTimeout
	default:
		base = ErrTransaction
	}

	if o.Err != nil {
		if errors.Is(o.Err, base) {
			return o.Err
		}

		return fmt.Errorf("%w: %w", base, o.Err)
	}

	if o.Detail != "" {
		return fmt.Errorf("%w: %s", base, o.Detail)
	}

	return base
}

// Succeeded builds a success outcome.
func Succeeded() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

// Failed builds a failure outcome from err.
func Failed(err error) Outcome {
	o := Outcome{Kind: OutcomeFailed, Err: err}
	if err != nil {
		o.Detail = err.Error()
	}

	return o
}

// Cancelled builds a cancellation outcome.
func Cancelled(detail string) Outcome {
	return Outcome{Kind: OutcomeCancelledByUser, Detail: detail, Err: ErrCancelled}
}
