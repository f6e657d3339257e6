package probe

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/oshokin/discord-installer/internal/config"
	"github.com/oshokin/discord-installer/internal/logger"
	"github.com/oshokin/discord-installer/internal/service/common"
)

// xdgLookupTimeout bounds the xdg-user-dir call.
const xdgLookupTimeout = 5 * time.Second

// downloadDirNames are tried under the home directory when xdg-user-dir is unavailable.
//
//nolint:gochecknoglobals // Read-only lookup table.
var downloadDirNames = []string{"Descargas", "Downloads", "descargas", "downloads"}

// errNoExistingAncestor is returned when no parent of a path exists.
var errNoExistingAncestor = errors.New("no existing ancestor")

// System runs host checks against the configured layout.
type System struct {
	// cfg holds the helper name, endpoints and paths.
	cfg config.Config
	// client performs connectivity probes.
	client *common.Client
}

// New creates a System probe.
func New(cfg config.Config, client *common.Client) *System {
	return &System{
		cfg:    cfg,
		client: client,
	}
}

// DownloadDir returns the configured downloads directory or detects the user's one.
func (s *System) DownloadDir(ctx context.Context) string {
	if s.cfg.DownloadDir != "" {
		return s.cfg.DownloadDir
	}

	return DetectDownloadDir(ctx)
}

// HelperAvailable reports whether the elevation helper can be found.
func (s *System) HelperAvailable(ctx context.Context) bool {
	path, err := exec.LookPath(s.cfg.Helper)
	if err != nil {
		logger.WarnKV(ctx, "Elevation helper not found", "helper", s.cfg.Helper, "error", err)

		return false
	}

	logger.DebugKV(ctx, "Elevation helper found", "path", path)

	return true
}

// FreeSpace returns the bytes available to unprivileged users on the install root's filesystem.
func (s *System) FreeSpace(_ context.Context) (uint64, error) {
	return FreeSpace(s.cfg.InstallRoot)
}

// Online reports whether the connectivity endpoint answers.
func (s *System) Online(ctx context.Context) bool {
	response, err := s.client.Head(ctx, s.cfg.ConnectivityURL)
	if err != nil {
		logger.WarnKV(ctx, "Connectivity probe failed", "url", s.cfg.ConnectivityURL, "error", err)

		return false
	}

	_ = response.Body.Close()

	return response.StatusCode < 500
}

// DetectDownloadDir asks xdg-user-dir, then tries common folder names, then falls back to home.
func DetectDownloadDir(ctx context.Context) string {
	lookupCtx, cancel := context.WithTimeout(ctx, xdgLookupTimeout)
	defer cancel()

	output, err := exec.CommandContext(lookupCtx, "xdg-user-dir", "DOWNLOAD").Output()
	if err == nil {
		if dir := strings.TrimSpace(string(output)); dir != "" && isDir(dir) {
			logger.DebugKV(ctx, "Downloads directory detected", "path", dir)

			return dir
		}
	} else {
		logger.Debugf(ctx, "xdg-user-dir unavailable, using fallbacks: %v", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}

	for _, name := range downloadDirNames {
		if dir := filepath.Join(home, name); isDir(dir) {
			return dir
		}
	}

	logger.WarnKV(ctx, "No downloads directory found, using home", "path", home)

	return home
}

// FreeSpace statfs-es the nearest existing ancestor of path.
func FreeSpace(path string) (uint64, error) {
	existing, err := nearestExisting(path)
	if err != nil {
		return 0, err
	}

	var stat unix.Statfs_t
	if err = unix.Statfs(existing, &stat); err != nil {
		return 0, err
	}

	// Bavail is what non-root users can allocate.
	return stat.Bavail * uint64(stat.Bsize), nil //nolint:gosec // Bsize is never negative.
}

// nearestExisting walks up from path until an existing entry is found.
func nearestExisting(path string) (string, error) {
	current := filepath.Clean(path)

	for {
		if _, err := os.Stat(current); err == nil {
			return current, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", errNoExistingAncestor
		}

		current = parent
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.IsDir()
}
