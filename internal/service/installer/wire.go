package installer

import (
	"github.com/oshokin/discord-installer/internal/config"
	"github.com/oshokin/discord-installer/internal/repository/installed"
	"github.com/oshokin/discord-installer/internal/service/common"
	"github.com/oshokin/discord-installer/internal/service/controller"
	"github.com/oshokin/discord-installer/internal/service/downloader"
	"github.com/oshokin/discord-installer/internal/service/executor"
	"github.com/oshokin/discord-installer/internal/service/locator"
	"github.com/oshokin/discord-installer/internal/service/probe"
	"github.com/oshokin/discord-installer/internal/service/transaction"
)

// Components are the wired collaborators of one installer run.
type Components struct {
	// Controller drives the installation.
	Controller *controller.Controller
	// Locator is shared with the downloads-directory watcher.
	Locator *locator.Locator
	// Builder renders transactions for the render command.
	Builder *transaction.Builder
}

// Wire builds the production component graph for cfg.
// Executor options apply to the executor created for every attempt.
func Wire(cfg config.Config, confirmer controller.Confirmer, executorOpts ...executor.Option) *Components {
	client := common.NewClient(
		common.WithCallTimeout(cfg.RequestTimeout),
		common.WithSocketTimeout(cfg.SocketTimeout),
	)

	loc := locator.New(cfg, client)
	builder := transaction.New(cfg)

	deps := controller.Dependencies{
		Installed:  installed.NewFileRepository(cfg),
		System:     probe.New(cfg, client),
		Locator:    loc,
		Downloader: controller.FromDownloader(downloader.New(client)),
		Builder:    builder,
		NewExecutor: func() controller.Executor {
			return executor.New(cfg, builder, executorOpts...)
		},
		Confirmer: confirmer,
	}

	return &Components{
		Controller: controller.New(cfg, deps),
		Locator:    loc,
		Builder:    builder,
	}
}
