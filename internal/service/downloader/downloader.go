package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	domain "github.com/oshokin/discord-installer/internal/domain/install"
	"github.com/oshokin/discord-installer/internal/logger"
	"github.com/oshokin/discord-installer/internal/service/common"
)

const (
	// ChunkSize is the read buffer used while streaming the body.
	ChunkSize = 32 * 1024
	// partSuffix marks a file that is still being written.
	partSuffix = ".part"
	// eventBuffer is the capacity of the events channel.
	eventBuffer = 64

	progressStart = 10
	progressMid   = 50
	progressEnd   = 90
)

var (
	errEmptyFile    = errors.New("downloaded file is empty")
	errSizeMismatch = errors.New("downloaded size does not match content length")
)

// Downloader starts transfers with a shared HTTP client.
type Downloader struct {
	// client performs the GET request; it applies socket timeouts only.
	client *common.Client
}

// New creates a Downloader.
func New(client *common.Client) *Downloader {
	return &Downloader{client: client}
}

// Transfer is one running download.
type Transfer struct {
	events    chan domain.Event
	done      chan struct{}
	cancelled atomic.Bool
	cancel    context.CancelFunc

	rawURL      string
	versionTag  string
	destDir     string
	destination string
}

// Start launches a download of rawURL into destDir and returns immediately.
// The returned transfer emits progress events and exactly one completion,
// after which its events channel is closed.
func (d *Downloader) Start(ctx context.Context, rawURL, versionTag, destDir string) *Transfer {
	ctx, cancel := context.WithCancel(logger.WithName(ctx, "downloader"))

	t := &Transfer{
		events:     make(chan domain.Event, eventBuffer),
		done:       make(chan struct{}),
		cancel:     cancel,
		rawURL:     rawURL,
		versionTag: versionTag,
		destDir:    destDir,
	}
	t.destination = filepath.Join(destDir, FileName(rawURL, versionTag))

	go t.run(ctx, d.client)

	return t
}

// Events returns the channel of progress and completion events.
func (t *Transfer) Events() <-chan domain.Event {
	return t.events
}

// Destination returns the final archive path.
func (t *Transfer) Destination() string {
	return t.destination
}

// Cancel requests cancellation. It is safe to call from any goroutine and more than once.
func (t *Transfer) Cancel() {
	t.cancelled.Store(true)
	t.cancel()
}

// Wait blocks until the transfer has emitted its completion.
func (t *Transfer) Wait() {
	<-t.done
}

// FileName derives the archive name from the URL path, falling back to discord-<version>.tar.gz.
func FileName(rawURL, versionTag string) string {
	if parsed, err := url.Parse(rawURL); err == nil {
		base := path.Base(parsed.Path)
		if base != "" && base != "." && base != "/" && strings.HasSuffix(base, ".tar.gz") {
			return base
		}
	}

	return "discord-" + versionTag + ".tar.gz"
}

func (t *Transfer) run(ctx context.Context, client *common.Client) {
	defer close(t.done)
	defer close(t.events)
	defer t.cancel()

	ctx = logger.WithKV(ctx, "url", t.rawURL, "destination", t.destination)

	candidate, err := t.download(ctx, client)

	switch {
	case err == nil:
		logger.InfoKV(ctx, "Download completed", "size", candidate.SizeBytes)

		event := domain.Completion(domain.Succeeded(), "Downloaded "+filepath.Base(candidate.Path))
		event.Archive = candidate
		t.emit(event)
	case t.cancelled.Load() || errors.Is(err, domain.ErrCancelled) || errors.Is(err, context.Canceled):
		logger.Info(ctx, "Download cancelled")
		t.emit(domain.Completion(domain.Cancelled("download cancelled"), "Download cancelled"))
	default:
		logger.ErrorKV(ctx, "Download failed", "error", err)
		t.emit(domain.Completion(domain.Failed(fmt.Errorf("%w: %w", domain.ErrTransfer, err)), "Download failed: "+err.Error()))
	}
}

func (t *Transfer) download(ctx context.Context, client *common.Client) (*domain.ArchiveCandidate, error) {
	if err := os.MkdirAll(t.destDir, 0o755); err != nil { //nolint:gosec // Download directories are user-visible.
		return nil, err
	}

	partPath := t.destination + partSuffix

	t.emit(domain.Progress(progressStart, "Connecting to "+hostOf(t.rawURL)))

	response, err := client.Get(ctx, t.rawURL)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	file, err := os.OpenFile(partPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644) //nolint:gosec // Archive is not secret.
	if err != nil {
		return nil, err
	}

	written, copyErr := t.copy(file, response.Body, response.ContentLength)

	if closeErr := file.Close(); copyErr == nil {
		copyErr = closeErr
	}

	if copyErr == nil && t.cancelled.Load() {
		copyErr = domain.ErrCancelled
	}

	if copyErr == nil {
		copyErr = verifySize(written, response.ContentLength)
	}

	if copyErr != nil {
		_ = os.Remove(partPath)

		return nil, copyErr
	}

	if err = os.Rename(partPath, t.destination); err != nil {
		_ = os.Remove(partPath)

		return nil, err
	}

	info, err := os.Stat(t.destination)
	if err != nil {
		return nil, err
	}

	t.emit(domain.Progress(progressEnd, "Downloaded "+humanize.Bytes(uint64(written)))) //nolint:gosec // Written is never negative.

	return &domain.ArchiveCandidate{
		Path:       t.destination,
		SizeBytes:  info.Size(),
		VersionTag: t.versionTag,
		ModTime:    info.ModTime(),
	}, nil
}

// copy streams body into file chunk by chunk, emitting progress only when the percentage changes.
func (t *Transfer) copy(file io.Writer, body io.Reader, contentLength int64) (int64, error) {
	var (
		buffer   = make([]byte, ChunkSize)
		written  int64
		lastSent = progressStart
		midSent  bool
	)

	for {
		if t.cancelled.Load() {
			return written, domain.ErrCancelled
		}

		n, readErr := body.Read(buffer)
		if n > 0 {
			if _, err := file.Write(buffer[:n]); err != nil {
				return written, err
			}

			written += int64(n)

			switch {
			case contentLength > 0:
				percent := progressStart + int(written*(progressEnd-progressStart)/contentLength)
				if percent != lastSent && percent <= progressEnd {
					lastSent = percent
					t.emit(domain.Progress(percent, fmt.Sprintf("Downloading %s of %s",
						humanize.Bytes(uint64(written)), humanize.Bytes(uint64(contentLength))))) //nolint:gosec // Sizes are never negative.
				}
			case !midSent:
				midSent = true
				t.emit(domain.Progress(progressMid, "Downloading, size unknown"))
			}
		}

		if errors.Is(readErr, io.EOF) {
			return written, nil
		}

		if readErr != nil {
			if t.cancelled.Load() {
				return written, domain.ErrCancelled
			}

			return written, readErr
		}
	}
}

func verifySize(written, contentLength int64) error {
	if written == 0 {
		return errEmptyFile
	}

	if contentLength > 0 && written != contentLength {
		return fmt.Errorf("%w: got %d, expected %d", errSizeMismatch, written, contentLength)
	}

	return nil
}

// emit blocks once the buffer is full; the consumer must drain Events.
func (t *Transfer) emit(event domain.Event) {
	t.events <- event
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}

	return parsed.Host
}
