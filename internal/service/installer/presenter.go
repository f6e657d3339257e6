package installer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	domain "github.com/oshokin/discord-installer/internal/domain/install"
	"github.com/oshokin/discord-installer/internal/logger"
	"github.com/oshokin/discord-installer/internal/service/controller"
)

// printStatus writes the scan result.
func (s *session) printStatus(status controller.Status) {
	installed := "not installed"

	switch {
	case status.Installed.Present && status.Installed.VersionTag != "":
		installed = status.Installed.VersionTag + " in " + status.Installed.Root
	case status.Installed.Present:
		installed = "installed, version unknown, in " + status.Installed.Root
	}

	s.printf("%s:   %s\n", s.cfg.Application.Name, installed)
	s.printf("Mode:      %s\n", status.Mode)
	s.printf("Downloads: %s\n", status.DownloadDir)

	if status.FreeSpace > 0 {
		s.printf("Free:      %s\n", humanize.Bytes(status.FreeSpace))
	}

	if status.Candidate != nil {
		s.printf("Archive:   %s (%s)\n", status.Candidate.Path, humanize.Bytes(uint64(status.Candidate.SizeBytes))) //nolint:gosec // Sizes are positive.
	}

	if status.VersionNote != "" {
		s.printf("Note:      %s\n", status.VersionNote)
	}

	s.printf("Status:    %s\n", status.Message)

	if status.ActionEnabled {
		s.printf("Action:    %s\n", status.Action)
	}
}

// render shows an attempt's events and returns its completion.
// Cancelling ctx asks the controller to stop an in-flight download.
func (s *session) render(ctx context.Context, events <-chan domain.Event) domain.Event {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(s.out),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetDescription("Starting"),
	)

	var completion domain.Event

	done := ctx.Done()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				_ = bar.Finish()
				s.println()

				return completion
			}

			switch event.Kind {
			case domain.EventProgress:
				bar.Describe(event.Message)
				_ = bar.Set(event.Percent)
			case domain.EventLogLine:
				_ = bar.Clear()
				s.println(event.Message)
				_ = bar.RenderBlank()
			case domain.EventCompletion:
				completion = event

				_ = bar.Clear()
				s.println(event.Message)
			}
		case request := <-s.confirmations:
			_ = bar.Clear()
			request.answer <- s.prompt.Confirm(ctx, request.candidate, request.action)
			_ = bar.RenderBlank()
		case <-done:
			done = nil

			err := s.controller.CancelCurrent()

			switch {
			case err == nil:
				_ = bar.Clear()
				s.println("Cancelling the download...")
			case errors.Is(err, controller.ErrNotCancellable):
				_ = bar.Clear()
				s.println("The installation cannot be interrupted; waiting for it to finish...")
			default:
				logger.WarnKV(ctx, "Cancel request ignored", "error", err)
			}
		}
	}
}

// waitForArchive rescans every time a matching archive shows up in the downloads directory.
func (s *session) waitForArchive(ctx context.Context, status controller.Status) (controller.Status, error) {
	signals, err := s.locator.Watch(ctx, status.DownloadDir)
	if err != nil {
		return status, fmt.Errorf("watch %s: %w", status.DownloadDir, err)
	}

	s.printf("Waiting for %s in %s (Ctrl-C to stop)...\n", s.cfg.ArchivePattern, status.DownloadDir)

	for range signals {
		status, err = s.controller.Scan(ctx)
		if err != nil {
			return status, fmt.Errorf("scan: %w", err)
		}

		if status.ActionEnabled {
			s.printStatus(status)

			return status, nil
		}
	}

	return status, ctx.Err()
}

// confirmation is a prompt request handed from the controller to the render loop.
type confirmation struct {
	candidate *domain.ArchiveCandidate
	action    domain.Action
	answer    chan bool
}

// routeConfirmations returns a confirmer that asks through the render loop,
// so the prompt never interleaves with the progress bar.
func routeConfirmations(requests chan<- confirmation) controller.ConfirmerFunc {
	return func(ctx context.Context, candidate *domain.ArchiveCandidate, action domain.Action) bool {
		request := confirmation{candidate: candidate, action: action, answer: make(chan bool, 1)}

		select {
		case requests <- request:
		case <-ctx.Done():
			return false
		}

		select {
		case answer := <-request.answer:
			return answer
		case <-ctx.Done():
			return false
		}
	}
}

// promptConfirmer asks on the terminal.
type promptConfirmer struct {
	mu     sync.Mutex
	reader *bufio.Reader
	out    io.Writer
	once   sync.Once
	lines  chan string
}

func newPromptConfirmer(in io.Reader, out io.Writer) *promptConfirmer {
	return &promptConfirmer{
		reader: bufio.NewReader(in),
		out:    out,
		lines:  make(chan string),
	}
}

// readLines feeds answers to Confirm until the input ends.
func (p *promptConfirmer) readLines() {
	defer close(p.lines)

	for {
		line, err := p.reader.ReadString('\n')
		if line != "" {
			p.lines <- line
		}

		if err != nil {
			return
		}
	}
}

// Confirm implements controller.Confirmer. Cancelling ctx answers no.
func (p *promptConfirmer) Confirm(ctx context.Context, candidate *domain.ArchiveCandidate, action domain.Action) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.once.Do(func() { go p.readLines() })

	verb := string(action)
	if action == domain.ActionDownloadAndInstall {
		verb = string(domain.ActionInstall)
	}

	question := "Proceed with the " + verb + "?"
	if candidate != nil {
		question = fmt.Sprintf("%s %s now? Administrator rights will be requested.", strings.ToUpper(verb[:1])+verb[1:], candidate.Path)
	}

	_, _ = fmt.Fprintf(p.out, "%s [y/N] ", question)

	select {
	case answer, ok := <-p.lines:
		if !ok {
			logger.Warn(ctx, "No answer to the confirmation prompt")

			return false
		}

		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return true
		default:
			return false
		}
	case <-ctx.Done():
		_, _ = fmt.Fprintln(p.out)

		return false
	}
}
