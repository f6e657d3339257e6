package installed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/discord-installer/internal/config"
	domain "github.com/oshokin/discord-installer/internal/domain/install"
	"github.com/oshokin/discord-installer/internal/logger"
)

// Repository defines how the controller learns what is installed.
type Repository interface {
	Load(ctx context.Context) (domain.InstalledState, error)
}

// FileRepository probes install roots on disk.
type FileRepository struct {
	// roots are probed in order.
	roots []string
	// buildInfo is the metadata file relative to a root.
	buildInfo string
	// executable is the binary relative to a root, used for presence detection.
	executable string
}

// buildInfo mirrors the vendor build_info.json file.
type buildInfo struct {
	ReleaseChannel string `json:"releaseChannel"`
	Version        string `json:"version"`
}

// errNoVersion is returned when the metadata has no version field.
var errNoVersion = errors.New("build info has no version")

// NewFileRepository creates a repository over the configured install roots.
func NewFileRepository(cfg config.Config) *FileRepository {
	return &FileRepository{
		roots:      cfg.InstallRoots(),
		buildInfo:  cfg.Application.BuildInfo,
		executable: cfg.Application.Executable,
	}
}

// Load returns the installed state. Absence is a valid state, not an error.
func (r *FileRepository) Load(ctx context.Context) (domain.InstalledState, error) {
	for _, root := range r.roots {
		path := filepath.Join(root, r.buildInfo)

		tag, err := readVersion(path)
		if err == nil {
			logger.DebugKV(ctx, "Installed version detected", "root", root, "version", tag)

			return domain.InstalledState{VersionTag: tag, Present: true, Root: root}, nil
		}

		if !errors.Is(err, os.ErrNotExist) {
			logger.WarnKV(ctx, "Unable to read build info", "path", path, "error", err)
		}
	}

	// Fall back to mere presence of the executable.
	for _, root := range r.roots {
		info, err := os.Stat(filepath.Join(root, r.executable))
		if err == nil && !info.IsDir() {
			logger.DebugKV(ctx, "Installation detected without version", "root", root)

			return domain.InstalledState{Present: true, Root: root}, nil
		}
	}

	return domain.InstalledState{}, nil
}

// readVersion decodes the version field of a build_info.json file.
func readVersion(path string) (string, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", err
	}

	var info buildInfo
	if err = json.Unmarshal(contents, &info); err != nil {
		return "", fmt.Errorf("decode build info: %w", err)
	}

	if info.Version == "" {
		return "", errNoVersion
	}

	return info.Version, nil
}
