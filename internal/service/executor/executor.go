package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/juju/clock"

	"github.com/oshokin/discord-installer/internal/config"
	domain "github.com/oshokin/discord-installer/internal/domain/install"
	"github.com/oshokin/discord-installer/internal/logger"
	"github.com/oshokin/discord-installer/internal/service/transaction"
)

const (
	// TailLines is how many trailing output lines make up a failure detail.
	TailLines = 20
	// eventBuffer is the capacity of the events channel.
	eventBuffer = 64
	// pipeGrace bounds how long output pipes may stay open after the helper exits.
	pipeGrace = 2 * time.Second
)

// Exit codes the elevation helper uses for a declined or failed authorization.
const (
	exitAuthDismissed = 126
	exitAuthFailed    = 127
)

// ErrNotIdle is returned when Execute is called on a used executor.
var ErrNotIdle = errors.New("executor is not idle")

// Executor supervises one privileged transaction.
type Executor struct {
	// cfg provides the helper, the artifact directory and the timeout.
	cfg config.Config
	// builder renders the transaction script.
	builder *transaction.Builder
	// clock arms the transaction timeout.
	clock clock.Clock
	// state is the current State.
	state atomic.Int32
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) Option {
	return func(e *Executor) {
		if c != nil {
			e.clock = c
		}
	}
}

// New creates an idle Executor.
func New(cfg config.Config, builder *transaction.Builder, opts ...Option) *Executor {
	e := &Executor{
		cfg:     cfg,
		builder: builder,
		clock:   clock.WallClock,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// State returns the current state.
func (e *Executor) State() State {
	return State(e.state.Load())
}

// Execute starts the transaction for spec and returns its event stream.
// The stream ends with exactly one completion event and is then closed.
func (e *Executor) Execute(ctx context.Context, spec domain.TransactionSpec) (<-chan domain.Event, error) {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return nil, fmt.Errorf("%w: %s", ErrNotIdle, e.State())
	}

	ctx = logger.WithKV(logger.WithName(ctx, "executor"), "attempt", spec.AttemptID)
	events := make(chan domain.Event, eventBuffer)

	go e.run(ctx, spec, events)

	return events, nil
}

// run owns events and closes it after the completion.
func (e *Executor) run(ctx context.Context, spec domain.TransactionSpec, events chan<- domain.Event) {
	defer close(events)

	a := &attempt{
		executor: e,
		spec:     spec,
		events:   events,
	}

	a.emit(domain.Progress(10, "Validating archive"))

	info, err := transaction.ValidateArchive(spec.ArchivePath)
	if err != nil {
		a.finish(ctx, StateCompleted, domain.Failed(err), "Archive validation failed: "+err.Error())

		return
	}

	logger.InfoKV(ctx, "Archive validated", "path", spec.ArchivePath, "members", info.Members, "sha256", info.SHA256)
	a.emit(domain.LogLine(fmt.Sprintf("Archive validated: %d entries, sha256 %s", info.Members, info.SHA256)))
	a.emit(domain.Progress(20, "Preparing transaction"))

	script, err := e.builder.Render(spec)
	if err != nil {
		a.finish(ctx, StateCompleted, domain.Failed(err), "Cannot render transaction: "+err.Error())

		return
	}

	a.artifact, err = transaction.WriteArtifact(spec, script, e.cfg.ArtifactDir)
	if err != nil {
		a.finish(ctx, StateCompleted, domain.Failed(err), "Cannot write transaction: "+err.Error())

		return
	}

	logger.InfoKV(ctx, "Transaction written", "artifact", a.artifact, "log", spec.LogPath)
	a.emit(domain.Progress(30, "Waiting for authorization"))

	a.supervise(ctx)
}

// attempt is the mutable state of one run.
type attempt struct {
	executor *Executor
	spec     domain.TransactionSpec
	events   chan<- domain.Event
	artifact string
	tail     []string
}

// update is either one output line or the final exit of the helper.
type update struct {
	line   string
	stderr bool
	done   bool
	err    error
}

func (a *attempt) supervise(ctx context.Context) {
	e := a.executor
	updates := make(chan update)

	cmd := exec.Command(e.cfg.Helper, a.artifact) //nolint:gosec // The helper is configured by the operator.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = newLineWriter(updates, false)
	cmd.Stderr = newLineWriter(updates, true)
	cmd.WaitDelay = pipeGrace

	if err := cmd.Start(); err != nil {
		a.finish(ctx, StateCompleted, domain.Failed(err), "Cannot start "+e.cfg.Helper+": "+err.Error())

		return
	}

	pid := cmd.Process.Pid

	e.state.Store(int32(StateRunning))
	logger.InfoKV(ctx, "Transaction started", "helper", e.cfg.Helper, "pid", pid)
	a.emit(domain.Progress(40, "Installing"))

	go func() {
		err := cmd.Wait()

		cmd.Stdout.(*lineWriter).flush() //nolint:forcetypeassert // Set above.
		cmd.Stderr.(*lineWriter).flush() //nolint:forcetypeassert // Set above.

		updates <- update{done: true, err: err}
	}()

	timer := e.clock.NewTimer(e.cfg.TransactionTimeout)
	defer timer.Stop()

	timeout := timer.Chan()
	timedOut := false

	for {
		select {
		case u := <-updates:
			if u.done {
				a.complete(ctx, u.err, timedOut)

				return
			}

			a.record(ctx, u)
		case <-timeout:
			timeout = nil
			timedOut = true

			logger.ErrorKV(ctx, "Transaction timed out, killing process tree", "timeout", e.cfg.TransactionTimeout, "pid", pid)
			killTree(ctx, pid)
		}
	}
}

func (a *attempt) record(ctx context.Context, u update) {
	if u.stderr {
		logger.WarnKV(ctx, "Transaction stderr", "line", u.line)
	} else {
		logger.InfoKV(ctx, "Transaction stdout", "line", u.line)
	}

	a.tail = append(a.tail, u.line)
	if len(a.tail) > TailLines {
		a.tail = a.tail[len(a.tail)-TailLines:]
	}

	a.emit(domain.LogLine(u.line))
}

// complete classifies the helper exit.
func (a *attempt) complete(ctx context.Context, err error, timedOut bool) {
	timeout := a.executor.cfg.TransactionTimeout

	if timedOut {
		outcome := domain.Outcome{
			Kind:   domain.OutcomeTimedOut,
			Detail: fmt.Sprintf("transaction exceeded %s", timeout),
			Err:    domain.ErrTimeout,
		}
		a.finish(ctx, StateTimedOut, outcome, fmt.Sprintf("Installation timed out after %s", timeout))

		return
	}

	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		a.emit(domain.Progress(100, "Installation complete"))
		a.finish(ctx, StateCompleted, domain.Succeeded(), "Installation complete")

		return
	}

	code := -1

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}

	switch code {
	case exitAuthDismissed, exitAuthFailed:
		outcome := domain.Outcome{
			Kind:   domain.OutcomeAuthDenied,
			Detail: "authorization was declined",
			Err:    domain.ErrAuthDeclined,
		}
		a.finish(ctx, StateCancelled, outcome, "Authorization was declined, nothing was changed")
	default:
		reason := err.Error()
		if code >= 0 {
			reason = transaction.DescribeExitCode(code)
		}

		outcome := domain.Outcome{
			Kind:   domain.OutcomeFailed,
			Detail: strings.Join(a.tail, "\n"),
			Err:    fmt.Errorf("%w: %s", domain.ErrTransaction, reason),
		}
		a.finish(ctx, StateCompleted, outcome, "Installation failed: "+reason)
	}
}

// finish removes the artifact, records the terminal state and emits the completion.
func (a *attempt) finish(ctx context.Context, state State, outcome domain.Outcome, message string) {
	a.cleanup(ctx)
	a.executor.state.Store(int32(state))

	if outcome.Success() {
		logger.InfoKV(ctx, "Transaction finished", "outcome", outcome.Kind)
	} else {
		logger.ErrorKV(ctx, "Transaction finished", "outcome", outcome.Kind, "reason", message, "log", a.spec.LogPath)
	}

	a.emit(domain.Completion(outcome, message))
}

func (a *attempt) cleanup(ctx context.Context) {
	if a.artifact == "" {
		return
	}

	if err := os.Remove(a.artifact); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Cannot remove transaction artifact", "artifact", a.artifact, "error", err)

		return
	}

	logger.DebugKV(ctx, "Transaction artifact removed", "artifact", a.artifact)
}

func (a *attempt) emit(event domain.Event) {
	a.events <- event
}

// lineWriter splits a stream into lines and sends each one as an update.
type lineWriter struct {
	mu      sync.Mutex
	updates chan<- update
	stderr  bool
	partial []byte
}

func newLineWriter(updates chan<- update, stderr bool) *lineWriter {
	return &lineWriter{updates: updates, stderr: stderr}
}

// Write implements io.Writer.
func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)

	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}

		w.send(string(w.partial[:i]))
		w.partial = w.partial[i+1:]
	}

	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.partial) > 0 {
		w.send(string(w.partial))
		w.partial = nil
	}
}

func (w *lineWriter) send(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}

	w.updates <- update{line: line, stderr: w.stderr}
}

var _ io.Writer = (*lineWriter)(nil)
