package locator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"

	"github.com/oshokin/discord-installer/internal/config"
	domain "github.com/oshokin/discord-installer/internal/domain/install"
	"github.com/oshokin/discord-installer/internal/logger"
	"github.com/oshokin/discord-installer/internal/service/common"
)

// archiveVersionPattern extracts the version token from an archive file name.
var archiveVersionPattern = regexp.MustCompile(`-([0-9]+(?:\.[0-9]+)*)\.tar\.gz$`)

// errResolutionStatus is returned when the endpoint answers with an error status.
var errResolutionStatus = errors.New("endpoint returned an error status")

// Locator finds archive candidates locally or on the vendor endpoint.
type Locator struct {
	// cfg holds the endpoint and the archive pattern.
	cfg config.Config
	// client issues the metadata request.
	client *common.Client
}

// New creates a Locator.
func New(cfg config.Config, client *common.Client) *Locator {
	return &Locator{
		cfg:    cfg,
		client: client,
	}
}

// ResolveLatestVersion follows the vendor endpoint's redirects and extracts
// the version from the final archive name. The body is never downloaded.
func (l *Locator) ResolveLatestVersion(ctx context.Context) (domain.VersionInfo, error) {
	logger.InfoKV(ctx, "Resolving latest version", "endpoint", l.cfg.DownloadURL)

	response, err := l.client.Head(ctx, l.cfg.DownloadURL)
	if err != nil {
		return domain.VersionInfo{}, fmt.Errorf("%w: %w", domain.ErrResolution, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode >= http.StatusBadRequest {
		return domain.VersionInfo{}, fmt.Errorf("%w: %s: %w", domain.ErrResolution, response.Status, errResolutionStatus)
	}

	info, err := ParseVersionInfo(response.Request.URL.String())
	if err != nil {
		return domain.VersionInfo{}, err
	}

	logger.InfoKV(ctx, "Latest version resolved", "version", info.VersionTag, "url", info.ResolvedURL)

	return info, nil
}

// ParseVersionInfo extracts the version token from the file name portion of resolvedURL.
func ParseVersionInfo(resolvedURL string) (domain.VersionInfo, error) {
	parsed, err := url.Parse(resolvedURL)
	if err != nil {
		return domain.VersionInfo{}, fmt.Errorf("%w: %w", domain.ErrResolution, err)
	}

	tag := VersionFromFilename(path.Base(parsed.Path))
	if tag == "" {
		return domain.VersionInfo{}, fmt.Errorf("%w in %q", domain.ErrNoVersionFound, resolvedURL)
	}

	return domain.VersionInfo{
		ResolvedURL: resolvedURL,
		VersionTag:  tag,
	}, nil
}

// VersionFromFilename returns the version embedded in an archive name, or "".
func VersionFromFilename(name string) string {
	match := archiveVersionPattern.FindStringSubmatch(name)
	if match == nil || !domain.IsValidVersionTag(match[1]) {
		return ""
	}

	return match[1]
}

// FindLocalCandidate returns the newest archive matching the configured pattern in dir.
// It returns nil without an error when nothing matches.
func (l *Locator) FindLocalCandidate(ctx context.Context, dir string) (*domain.ArchiveCandidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var (
		best     string
		bestInfo os.FileInfo
	)

	// Match names only; dir may contain glob metacharacters.
	for _, entry := range entries {
		matched, matchErr := filepath.Match(l.cfg.ArchivePattern, entry.Name())
		if matchErr != nil {
			return nil, fmt.Errorf("match archives: %w", matchErr)
		}

		if !matched {
			continue
		}

		match := filepath.Join(dir, entry.Name())

		info, statErr := os.Stat(match)
		if statErr != nil || !info.Mode().IsRegular() {
			continue
		}

		if bestInfo == nil || newer(match, info, best, bestInfo) {
			best, bestInfo = match, info
		}
	}

	if bestInfo == nil {
		logger.InfoKV(ctx, "No local archive found", "dir", dir, "pattern", l.cfg.ArchivePattern)

		return nil, nil //nolint:nilnil // Absence is an expected outcome.
	}

	absolute, err := filepath.Abs(best)
	if err != nil {
		return nil, err
	}

	candidate := &domain.ArchiveCandidate{
		Path:       absolute,
		SizeBytes:  bestInfo.Size(),
		VersionTag: VersionFromFilename(filepath.Base(best)),
		ModTime:    bestInfo.ModTime(),
	}

	logger.InfoKV(ctx, "Local archive found", "path", candidate.Path, "size", candidate.SizeBytes)

	return candidate, nil
}

// newer orders by modification time, breaking ties with the lexicographically larger path.
func newer(path string, info os.FileInfo, bestPath string, bestInfo os.FileInfo) bool {
	switch {
	case info.ModTime().After(bestInfo.ModTime()):
		return true
	case info.ModTime().Equal(bestInfo.ModTime()):
		return path > bestPath
	default:
		return false
	}
}
