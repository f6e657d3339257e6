// Package transactiontest provides archives, layouts and tree digests for
// tests that run real transactions inside temporary directories.
package transactiontest

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/discord-installer/internal/config"
)

// AppFiles is the content of a minimal valid vendor archive.
func AppFiles(version string) map[string]string {
	return map[string]string{
		"Discord/Discord":                   "#!/bin/sh\necho discord " + version + "\n",
		"Discord/discord.png":               "png",
		"Discord/resources/build_info.json": `{"releaseChannel":"stable","version":"` + version + `"}`,
	}
}

// WriteArchive writes a gzip-compressed tar with files to path and returns path.
// Directories are created implicitly for every file.
func WriteArchive(t *testing.T, path string, files map[string]string) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	out, err := os.Create(path) //nolint:gosec // Test path.
	require.NoError(t, err)

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	sort.Strings(names)

	seenDirs := make(map[string]struct{})

	for _, name := range names {
		for dir := filepath.Dir(name); dir != "." && dir != "/"; dir = filepath.Dir(dir) {
			if _, ok := seenDirs[dir]; ok {
				continue
			}

			seenDirs[dir] = struct{}{}

			require.NoError(t, tw.WriteHeader(&tar.Header{
				Name:     dir + "/",
				Typeflag: tar.TypeDir,
				Mode:     0o755,
			}))
		}

		content := files[name]
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(content)),
		}))

		_, err = tw.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, out.Close())

	return path
}

// Layout returns a configuration whose every system path lives under root.
func Layout(t *testing.T, root string) config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.InstallRoot = filepath.Join(root, "opt", "discord")
	cfg.AltInstallRoots = []string{filepath.Join(root, "usr", "share", "discord")}
	cfg.BinSymlink = filepath.Join(root, "usr", "local", "bin", "discord")
	cfg.DesktopDir = filepath.Join(root, "usr", "share", "applications")
	cfg.IconCacheDir = filepath.Join(root, "usr", "share", "icons", "hicolor")
	cfg.BackupDir = filepath.Join(root, "backups")
	cfg.TransactionLogDir = filepath.Join(root, "logs")
	cfg.ArtifactDir = filepath.Join(root, "artifacts")
	cfg.DownloadDir = filepath.Join(root, "downloads")
	cfg.LogFile = filepath.Join(root, "installer.log")
	cfg.MinFreeSpace = 1

	require.NoError(t, config.Validate(&cfg))

	return cfg
}

// TreeDigest hashes names, modes and contents of every entry under root.
// A missing root digests to the empty string.
func TreeDigest(t *testing.T, root string) string {
	t.Helper()

	if _, err := os.Lstat(root); os.IsNotExist(err) {
		return ""
	}

	var lines []string

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		line := rel + " " + info.Mode().String()

		if info.Mode().IsRegular() {
			content, readErr := os.ReadFile(path) //nolint:gosec // Test path.
			if readErr != nil {
				return readErr
			}

			sum := sha256.Sum256(content)
			line += " " + hex.EncodeToString(sum[:])
		}

		lines = append(lines, line)

		return nil
	})
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))

	return hex.EncodeToString(sum[:])
}

// RequireBash skips the test when bash or tar is not available.
func RequireBash(t *testing.T) {
	t.Helper()

	for _, tool := range []string{"bash", "tar"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s is not available: %v", tool, err)
		}
	}
}
