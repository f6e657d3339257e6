package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/oshokin/discord-installer/internal/config"
	domain "github.com/oshokin/discord-installer/internal/domain/install"
	"github.com/oshokin/discord-installer/internal/logger"
	"github.com/oshokin/discord-installer/internal/service/common"
)

// eventBuffer is the capacity of an attempt's event stream.
const eventBuffer = 64

// Status is a snapshot of what the presentation layer shows.
type Status struct {
	// State is the controller state.
	State State
	// Mode is the acquisition mode.
	Mode config.Mode
	// Installed is the installation found during the last scan.
	Installed domain.InstalledState
	// Candidate is the archive that would be installed, if any.
	Candidate *domain.ArchiveCandidate
	// DownloadDir is searched for archives and receives downloads.
	DownloadDir string
	// FreeSpace is the space available on the install root's filesystem.
	FreeSpace uint64
	// Action is the label of the offered action.
	Action domain.Action
	// ActionEnabled is false while blocked or busy.
	ActionEnabled bool
	// Message explains the state, including every blocking cause.
	Message string
	// VersionNote compares the installed and candidate versions when both are known.
	VersionNote string
}

// Controller drives scanning, acquisition and installation.
type Controller struct {
	cfg  config.Config
	deps Dependencies

	mu        sync.Mutex
	state     State
	mode      config.Mode
	status    Status
	candidate *domain.ArchiveCandidate
	cancel    context.CancelFunc
	transfer  Transfer
}

// New creates a controller in StateIdle.
func New(cfg config.Config, deps Dependencies) *Controller {
	return &Controller{
		cfg:   cfg,
		deps:  deps,
		state: StateIdle,
		mode:  cfg.Mode,
		status: Status{
			State: StateIdle,
			Mode:  cfg.Mode,
		},
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Status returns the latest snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.status
	status.State = c.state
	status.Mode = c.mode
	status.Candidate = status.Candidate.Clone()

	return status
}

// SetMode switches between automatic and manual acquisition. The caller rescans afterwards.
func (c *Controller) SetMode(mode config.Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Busy() {
		return fmt.Errorf("%w: %s", ErrBusy, c.state)
	}

	if mode != config.ModeAuto && mode != config.ModeManual {
		return fmt.Errorf("unknown mode %q: %w", mode, ErrInvalidTransition)
	}

	if mode != c.mode {
		c.mode = mode
		c.candidate = nil
		c.status.Candidate = nil
		c.status.ActionEnabled = false
	}

	return nil
}

// transition moves to next if the table allows it. The caller holds mu.
func (c *Controller) transition(ctx context.Context, next State) error {
	if !CanTransition(c.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, next)
	}

	logger.DebugKV(ctx, "State changed", "from", c.state, "to", next)
	c.state = next

	return nil
}

// Scan inspects the host and decides what can be offered.
// It fails with ErrBusy while a scan, a download or an installation is in flight.
func (c *Controller) Scan(ctx context.Context) (Status, error) {
	ctx = logger.WithName(ctx, "controller")

	c.mu.Lock()
	if c.state.Busy() {
		state := c.state
		c.mu.Unlock()

		return c.Status(), fmt.Errorf("%w: %s", ErrBusy, state)
	}

	if err := c.transition(ctx, StateScanning); err != nil {
		c.mu.Unlock()

		return c.Status(), err
	}

	mode, kept := c.mode, c.candidate
	c.mu.Unlock()

	status, next := c.scan(ctx, mode, kept)

	if ctx.Err() != nil {
		next = StateIdle
		status.Message = "Scan aborted"
		status.Candidate = nil
	}

	status.ActionEnabled = next == StateReadyToInstall || next == StateReadyToDownload

	c.mu.Lock()
	if err := c.transition(ctx, next); err != nil {
		c.mu.Unlock()

		return c.Status(), err
	}

	c.status = status
	c.candidate = status.Candidate.Clone()
	c.mu.Unlock()

	logger.InfoKV(ctx, "Scan finished", "state", next, "message", status.Message)

	return c.Status(), ctx.Err()
}

// scan gathers the host facts in a fixed order and stops at the first blocking cause.
func (c *Controller) scan(ctx context.Context, mode config.Mode, kept *domain.ArchiveCandidate) (Status, State) {
	status := Status{Mode: mode}

	installed, err := c.deps.Installed.Load(ctx)
	if err != nil {
		logger.WarnKV(ctx, "Cannot detect the installed version", "error", err)
	}

	status.Installed = installed
	status.DownloadDir = c.deps.System.DownloadDir(ctx)
	status.Action = domain.ActionFor(installed, mode == config.ModeAuto && kept == nil)

	if !c.deps.System.HelperAvailable(ctx) {
		status.Message = fmt.Sprintf("The elevation helper %q was not found; install polkit to continue", c.cfg.Helper)

		return status, StateBlocked
	}

	free, err := c.deps.System.FreeSpace(ctx)
	if err != nil {
		status.Message = fmt.Sprintf("Cannot check free space for %s: %v", c.cfg.InstallRoot, err)

		return status, StateBlocked
	}

	status.FreeSpace = free

	if free < uint64(c.cfg.MinFreeSpace) { //nolint:gosec // Validated to be positive.
		status.Message = fmt.Sprintf("Not enough free space for %s: %s available, %s required",
			c.cfg.InstallRoot, humanize.Bytes(free), humanize.Bytes(uint64(c.cfg.MinFreeSpace))) //nolint:gosec // Positive.

		return status, StateBlocked
	}

	if mode == config.ModeAuto {
		return c.scanAuto(ctx, status, kept)
	}

	return c.scanManual(ctx, status)
}

func (c *Controller) scanAuto(ctx context.Context, status Status, kept *domain.ArchiveCandidate) (Status, State) {
	if kept != nil {
		if _, err := os.Stat(kept.Path); err == nil {
			status.Candidate = kept.Clone()
			status.Action = domain.ActionFor(status.Installed, false)
			status.Message = "Downloaded archive " + kept.Path + " is ready to " + string(status.Action)
			status.VersionNote = versionNote(status.Installed, kept)

			return status, StateReadyToInstall
		}
	}

	if !c.deps.System.Online(ctx) {
		status.Message = "No internet connection; switch to manual mode to install a downloaded archive"

		return status, StateBlocked
	}

	status.Message = "Ready to " + string(status.Action) + " the latest " + c.cfg.Application.Name

	return status, StateReadyToDownload
}

func (c *Controller) scanManual(ctx context.Context, status Status) (Status, State) {
	candidate, err := c.deps.Locator.FindLocalCandidate(ctx, status.DownloadDir)
	if err != nil {
		status.Message = fmt.Sprintf("Cannot search %s: %v", status.DownloadDir, err)

		return status, StateBlocked
	}

	if candidate == nil {
		status.Message = fmt.Sprintf("No %s archive found in %s", c.cfg.ArchivePattern, status.DownloadDir)

		return status, StateBlocked
	}

	status.Candidate = candidate
	status.Message = fmt.Sprintf("Found %s (%s)", candidate.Path, humanize.Bytes(uint64(candidate.SizeBytes))) //nolint:gosec // Sizes are positive.
	status.VersionNote = versionNote(status.Installed, candidate)

	return status, StateReadyToInstall
}

func versionNote(installed domain.InstalledState, candidate *domain.ArchiveCandidate) string {
	return domain.CompareVersions(installed.VersionTag, candidate.VersionTag).Describe(installed.VersionTag, candidate.VersionTag)
}

// BeginAcquireOrInstall starts the offered action and returns its event stream.
// The stream carries exactly one completion and is then closed.
func (c *Controller) BeginAcquireOrInstall(ctx context.Context) (<-chan domain.Event, error) {
	ctx = logger.WithName(ctx, "controller")

	c.mu.Lock()
	defer c.mu.Unlock()

	events := make(chan domain.Event, eventBuffer)

	var err error

	switch {
	case c.state == StateReadyToDownload:
		err = c.startDownload(ctx, events)
	case c.state == StateReadyToInstall:
		if c.candidate == nil {
			return nil, fmt.Errorf("%w: no candidate archive", ErrInvalidTransition)
		}

		err = c.startInstall(ctx, events)
	case (c.state == StateCancelled || c.state == StateFailed) && c.status.ActionEnabled:
		// Retry the last attempt without a rescan.
		if c.candidate != nil {
			err = c.startInstall(ctx, events)
		} else {
			err = c.startDownload(ctx, events)
		}
	case c.state.Busy():
		return nil, fmt.Errorf("%w: %s", ErrBusy, c.state)
	default:
		return nil, fmt.Errorf("%w: nothing to do in state %s", ErrInvalidTransition, c.state)
	}

	if err != nil {
		return nil, err
	}

	return events, nil
}

// startDownload moves to StateDownloading and runs acquire. The caller holds mu.
func (c *Controller) startDownload(ctx context.Context, events chan domain.Event) error {
	if err := c.transition(ctx, StateDownloading); err != nil {
		return err
	}

	downloadCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.acquire(downloadCtx, c.status, events)

	return nil
}

// startInstall moves to StateInstalling and installs the held candidate. The caller holds mu.
func (c *Controller) startInstall(ctx context.Context, events chan domain.Event) error {
	if err := c.transition(ctx, StateInstalling); err != nil {
		return err
	}

	go c.install(ctx, c.candidate.Clone(), events)

	return nil
}

// CancelCurrent stops an in-flight resolution or download.
func (c *Controller) CancelCurrent() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateDownloading:
		if c.cancel != nil {
			c.cancel()
		}

		if c.transfer != nil {
			c.transfer.Cancel()
		}

		return nil
	case StateInstalling:
		return ErrNotCancellable
	default:
		return fmt.Errorf("%w in state %s", ErrNothingToCancel, c.state)
	}
}

// acquire resolves, downloads, confirms and then installs.
func (c *Controller) acquire(ctx context.Context, status Status, events chan<- domain.Event) {
	defer c.clearDownload()

	events <- domain.Progress(5, "Resolving the latest version")

	info, err := c.deps.Locator.ResolveLatestVersion(ctx)
	if err != nil {
		c.endDownload(ctx, events, err, "Cannot resolve the latest version: "+err.Error())

		return
	}

	events <- domain.LogLine("Latest version: " + info.VersionTag)

	transfer := c.deps.Downloader.Download(ctx, info.ResolvedURL, info.VersionTag, status.DownloadDir)

	c.mu.Lock()
	c.transfer = transfer
	c.mu.Unlock()

	events <- domain.LogLine("Saving to " + transfer.Destination())

	var candidate *domain.ArchiveCandidate

	for event := range transfer.Events() {
		if !event.IsTerminal() {
			events <- event

			continue
		}

		if !event.Success() {
			c.endDownload(ctx, events, event.Outcome.Error(), event.Message)

			return
		}

		candidate = event.Archive
	}

	if candidate == nil {
		c.endDownload(ctx, events, domain.ErrTransfer, "Download ended without an archive")

		return
	}

	events <- domain.LogLine("Downloaded " + candidate.Path)

	action := domain.ActionFor(status.Installed, false)

	if !c.cfg.SkipConfirmation && c.deps.Confirmer != nil {
		if !c.deps.Confirmer.Confirm(ctx, candidate.Clone(), action) || ctx.Err() != nil {
			c.postpone(ctx, candidate, action, events)

			return
		}
	}

	c.mu.Lock()
	c.cancel = nil
	c.transfer = nil
	c.candidate = candidate.Clone()
	err = c.transition(ctx, StateInstalling)
	c.mu.Unlock()

	if err != nil {
		logger.ErrorKV(ctx, "Cannot start installation", "error", err)
		events <- domain.Completion(domain.Failed(err), "Cannot start installation: "+err.Error())
		close(events)

		return
	}

	c.install(context.WithoutCancel(ctx), candidate, events)
}

// postpone keeps the downloaded archive as the ready candidate.
func (c *Controller) postpone(ctx context.Context, candidate *domain.ArchiveCandidate, action domain.Action, events chan<- domain.Event) {
	defer close(events)

	c.mu.Lock()
	c.candidate = candidate.Clone()
	c.status.Candidate = candidate.Clone()
	c.status.Action = action
	c.status.ActionEnabled = true
	c.status.Message = "Installation postponed; " + candidate.Path + " is ready to " + string(action)
	c.status.VersionNote = versionNote(c.status.Installed, candidate)
	err := c.transition(ctx, StateReadyToInstall)
	c.mu.Unlock()

	if err != nil {
		logger.ErrorKV(ctx, "Unexpected transition", "error", err)
	}

	logger.InfoKV(ctx, "Installation postponed by the user", "archive", candidate.Path)
	events <- domain.Completion(domain.Cancelled("installation declined"), "Installation postponed; the archive is ready at "+candidate.Path)
}

// endDownload finishes a download attempt that produced no archive.
func (c *Controller) endDownload(ctx context.Context, events chan<- domain.Event, cause error, message string) {
	defer close(events)

	if errors.Is(cause, domain.ErrCancelled) || errors.Is(cause, context.Canceled) {
		c.finish(ctx, StateCancelled, "Download cancelled", true)
		logger.Info(ctx, "Download cancelled by the user")
		events <- domain.Completion(domain.Cancelled("download cancelled"), "Download cancelled")

		return
	}

	c.finish(ctx, StateFailed, message, false)
	logger.ErrorKV(ctx, "Download failed", "error", cause)
	events <- domain.Completion(domain.Failed(cause), message)
}

func (c *Controller) clearDownload() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	c.transfer = nil
}

// install runs the transaction and relays its events; it owns events from here on.
func (c *Controller) install(ctx context.Context, candidate *domain.ArchiveCandidate, events chan<- domain.Event) {
	defer close(events)

	spec := c.deps.Builder.NewSpec(candidate.Path)
	ctx = logger.WithKV(ctx, "attempt", spec.AttemptID)

	if actor, err := common.DetectActor(); err == nil {
		logger.InfoKV(ctx, "Installation requested", "actor", actor.String(), "archive", candidate.Path, "version", candidate.VersionTag)
	}

	executions, err := c.deps.NewExecutor().Execute(ctx, spec)
	if err != nil {
		c.finish(ctx, StateFailed, "Cannot start installation: "+err.Error(), false)
		events <- domain.Completion(domain.Failed(err), "Cannot start installation: "+err.Error())

		return
	}

	for event := range executions {
		if !event.IsTerminal() {
			events <- event

			continue
		}

		state, message := c.describe(spec, candidate, event)
		c.finish(ctx, state, message, event.Outcome.Retryable())

		events <- domain.Completion(event.Outcome, message)

		return
	}

	c.finish(ctx, StateFailed, "Installation ended without a result", false)
	events <- domain.Completion(domain.Failed(domain.ErrTransaction), "Installation ended without a result")
}

// describe maps a transaction outcome onto the controller state and a user message.
func (c *Controller) describe(spec domain.TransactionSpec, candidate *domain.ArchiveCandidate, completion domain.Event) (State, string) {
	name := c.cfg.Application.Name

	switch completion.Outcome.Kind {
	case domain.OutcomeSuccess:
		if candidate.VersionTag != "" {
			return StateDone, fmt.Sprintf("%s %s was installed in %s", name, candidate.VersionTag, spec.InstallRoot)
		}

		return StateDone, fmt.Sprintf("%s was installed in %s", name, spec.InstallRoot)
	case domain.OutcomeAuthDenied:
		return StateCancelled, "Authorization was declined; nothing was changed and you can try again"
	case domain.OutcomeCancelledByUser:
		return StateCancelled, "Installation cancelled; you can try again"
	case domain.OutcomeTimedOut:
		return StateFailed, fmt.Sprintf("Installation timed out after %s; you can try again, details are in %s",
			c.cfg.TransactionTimeout, spec.LogPath)
	default:
		if _, err := os.Stat(spec.LogPath); err == nil {
			return StateFailed, completion.Message + "; details are in " + spec.LogPath
		}

		return StateFailed, completion.Message
	}
}

// finish records a terminal state with its message.
// A retryable attempt keeps its candidate and leaves the action enabled.
func (c *Controller) finish(ctx context.Context, state State, message string, retry bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.transition(ctx, state); err != nil {
		logger.ErrorKV(ctx, "Unexpected transition", "error", err)

		return
	}

	c.status.ActionEnabled = retry && (c.candidate != nil || c.mode == config.ModeAuto)
	c.status.Message = message

	if state == StateDone {
		c.candidate = nil
		c.status.Candidate = nil
	}
}
