package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/discord-installer/internal/config"
	domain "github.com/oshokin/discord-installer/internal/domain/install"
	"github.com/oshokin/discord-installer/internal/logger"
	"github.com/oshokin/discord-installer/internal/service/controller"
)

// DefaultLogLevel keeps the console quiet; the log file always receives debug entries.
const DefaultLogLevel = "warn"

var (
	errBlocked         = errors.New("installation is blocked")
	errUnknownLogLevel = errors.New("unknown log level")
	errNotConfirmed    = errors.New("installation was not confirmed")
)

// Options are inputs accepted by the installer entry points.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// Mode overrides the configured acquisition mode when set.
	Mode string
	// Archive installs this file instead of searching or downloading.
	Archive string
	// Yes skips every confirmation prompt.
	Yes bool
	// Watch waits for an archive to appear in the downloads directory in manual mode.
	Watch bool
	// LogLevel is the console log level.
	LogLevel string
	// In is read for confirmations; defaults to os.Stdin.
	In io.Reader
	// Out receives the presentation; defaults to os.Stdout.
	Out io.Writer
}

// Run scans the host, then downloads and installs the application.
func Run(ctx context.Context, opts *Options) error {
	session, err := open(ctx, opts)
	if err != nil {
		return err
	}

	defer session.close()

	ctx = session.ctx

	status, err := session.controller.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	session.printStatus(status)

	if status.State == controller.StateBlocked && opts.Watch && status.Mode == config.ModeManual {
		status, err = session.waitForArchive(ctx, status)
		if err != nil {
			return err
		}
	}

	if !status.ActionEnabled {
		return fmt.Errorf("%w: %s", errBlocked, status.Message)
	}

	if status.State == controller.StateReadyToInstall && !session.cfg.SkipConfirmation {
		if !session.prompt.Confirm(ctx, status.Candidate, status.Action) {
			session.println("Nothing was changed.")

			return errNotConfirmed
		}
	}

	events, err := session.controller.BeginAcquireOrInstall(ctx)
	if err != nil {
		return fmt.Errorf("begin installation: %w", err)
	}

	completion := session.render(ctx, events)

	if completion.Outcome.Kind == domain.OutcomeCancelledByUser && session.controller.State() == controller.StateReadyToInstall {
		return nil
	}

	return completion.Outcome.Error()
}

// Scan prints what the installer would do without changing anything.
func Scan(ctx context.Context, opts *Options) error {
	session, err := open(ctx, opts)
	if err != nil {
		return err
	}

	defer session.close()

	status, err := session.controller.Scan(session.ctx)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	session.printStatus(status)

	if status.State == controller.StateBlocked {
		return fmt.Errorf("%w: %s", errBlocked, status.Message)
	}

	return nil
}

// Render prints the transaction that would install archive.
func Render(ctx context.Context, opts *Options, archive string) error {
	session, err := open(ctx, opts)
	if err != nil {
		return err
	}

	defer session.close()

	absolute, err := filepath.Abs(archive)
	if err != nil {
		return err
	}

	spec := session.builder.NewSpec(absolute)

	script, err := session.builder.Render(spec)
	if err != nil {
		return err
	}

	logger.InfoKV(session.ctx, "Transaction rendered", "attempt", spec.AttemptID, "archive", absolute)

	_, err = session.out.Write(script)

	return err
}

// applyOptions overlays command-line options on the loaded configuration.
func applyOptions(cfg *config.Config, opts *Options) error {
	if opts.Mode != "" {
		mode, err := config.ModeFromString(opts.Mode)
		if err != nil {
			return err
		}

		cfg.Mode = mode
	}

	if opts.Yes {
		cfg.SkipConfirmation = true
	}

	if opts.Archive != "" {
		absolute, err := filepath.Abs(opts.Archive)
		if err != nil {
			return err
		}

		if _, err = os.Stat(absolute); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}

		cfg.Mode = config.ModeManual
		cfg.DownloadDir = filepath.Dir(absolute)
		cfg.ArchivePattern = escapeGlob(filepath.Base(absolute))
	}

	return nil
}

// escapeGlob makes name match only itself.
func escapeGlob(name string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`)

	return replacer.Replace(name)
}
