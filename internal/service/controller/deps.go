package controller

import (
	"context"

	domain "github.com/oshokin/discord-installer/internal/domain/install"
	"github.com/oshokin/discord-installer/internal/service/downloader"
)

// InstalledRepository reports what is currently deployed.
type InstalledRepository interface {
	Load(ctx context.Context) (domain.InstalledState, error)
}

// SystemProbe answers host questions asked during a scan.
type SystemProbe interface {
	DownloadDir(ctx context.Context) string
	HelperAvailable(ctx context.Context) bool
	FreeSpace(ctx context.Context) (uint64, error)
	Online(ctx context.Context) bool
}

// ArchiveLocator finds archives locally and on the vendor endpoint.
type ArchiveLocator interface {
	ResolveLatestVersion(ctx context.Context) (domain.VersionInfo, error)
	FindLocalCandidate(ctx context.Context, dir string) (*domain.ArchiveCandidate, error)
}

// Transfer is a running download.
type Transfer interface {
	Events() <-chan domain.Event
	Destination() string
	Cancel()
}

// Downloader starts transfers.
type Downloader interface {
	Download(ctx context.Context, url, versionTag, destDir string) Transfer
}

// SpecBuilder binds transactions.
type SpecBuilder interface {
	NewSpec(archivePath string) domain.TransactionSpec
}

// Executor runs one transaction.
type Executor interface {
	Execute(ctx context.Context, spec domain.TransactionSpec) (<-chan domain.Event, error)
}

// Confirmer asks the user whether to install a freshly downloaded archive.
type Confirmer interface {
	Confirm(ctx context.Context, candidate *domain.ArchiveCandidate, action domain.Action) bool
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, candidate *domain.ArchiveCandidate, action domain.Action) bool

// Confirm implements Confirmer.
func (f ConfirmerFunc) Confirm(ctx context.Context, candidate *domain.ArchiveCandidate, action domain.Action) bool {
	return f(ctx, candidate, action)
}

// Dependencies are the collaborators of a Controller.
type Dependencies struct {
	// Installed probes the current installation.
	Installed InstalledRepository
	// System answers host questions.
	System SystemProbe
	// Locator finds archives.
	Locator ArchiveLocator
	// Downloader fetches the latest archive.
	Downloader Downloader
	// Builder binds a transaction to an archive.
	Builder SpecBuilder
	// NewExecutor returns a fresh executor for every attempt.
	NewExecutor func() Executor
	// Confirmer is asked after a download unless confirmation is skipped; nil skips it too.
	Confirmer Confirmer
}

// FromDownloader adapts a downloader.Downloader.
func FromDownloader(d *downloader.Downloader) Downloader {
	return downloaderAdapter{d: d}
}

type downloaderAdapter struct {
	d *downloader.Downloader
}

func (a downloaderAdapter) Download(ctx context.Context, url, versionTag, destDir string) Transfer {
	return a.d.Start(ctx, url, versionTag, destDir)
}
