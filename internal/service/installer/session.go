package installer

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/oshokin/discord-installer/internal/config"
	"github.com/oshokin/discord-installer/internal/logger"
	"github.com/oshokin/discord-installer/internal/service/controller"
	"github.com/oshokin/discord-installer/internal/service/locator"
	"github.com/oshokin/discord-installer/internal/service/transaction"
)

// session holds everything one command invocation needs.
type session struct {
	ctx           context.Context //nolint:containedctx // Scoped to one command invocation.
	cfg           config.Config
	out           io.Writer
	prompt        *promptConfirmer
	confirmations chan confirmation
	locator       *locator.Locator
	builder       *transaction.Builder
	controller    *controller.Controller
	closeLog      func() error
}

// open loads the configuration, sets up logging and wires the controller.
func open(ctx context.Context, opts *Options) (*session, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	if err = applyOptions(&cfg, opts); err != nil {
		return nil, err
	}

	levelName := opts.LogLevel
	if levelName == "" {
		levelName = DefaultLogLevel
	}

	level, ok := logger.ParseLogLevel(levelName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownLogLevel, levelName)
	}

	l, closeLog, err := logger.NewWithFile(level, cfg.LogFile)
	if err != nil {
		return nil, err
	}

	logger.SetLogger(l)
	ctx = logger.WithName(logger.ToContext(ctx, l), "discord-installer")

	in, out := opts.In, opts.Out
	if in == nil {
		in = os.Stdin
	}

	if out == nil {
		out = os.Stdout
	}

	prompt := newPromptConfirmer(in, out)
	confirmations := make(chan confirmation)
	components := Wire(cfg, routeConfirmations(confirmations))

	logger.InfoKV(ctx, "Installer started", "mode", cfg.Mode, "install_root", cfg.InstallRoot, "log_file", cfg.LogFile)

	return &session{
		ctx:           ctx,
		cfg:           cfg,
		out:           out,
		prompt:        prompt,
		confirmations: confirmations,
		locator:       components.Locator,
		builder:       components.Builder,
		controller:    components.Controller,
		closeLog:      closeLog,
	}, nil
}

func (s *session) close() {
	if s.closeLog != nil {
		_ = s.closeLog()
	}
}

func (s *session) println(args ...any) {
	_, _ = fmt.Fprintln(s.out, args...)
}

func (s *session) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format, args...)
}
