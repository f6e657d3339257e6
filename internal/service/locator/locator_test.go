package locator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/discord-installer/internal/config"
	domain "github.com/oshokin/discord-installer/internal/domain/install"
	"github.com/oshokin/discord-installer/internal/service/common"
)

// TestParseVersionInfo extracts the token from the file name and rejects names without one.
func TestParseVersionInfo(t *testing.T) {
	t.Parallel()

	valid := map[string]string{
		"https://dl.discordapp.net/apps/linux/0.0.35/discord-0.0.35.tar.gz": "0.0.35",
		"https://cdn.example.com/discord-1.2.3.tar.gz?sig=abc":              "1.2.3",
		"https://cdn.example.com/x/discord-ptb-10.0.112.tar.gz":             "10.0.112",
	}
	for raw, want := range valid {
		info, err := ParseVersionInfo(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, info.VersionTag)
		require.Equal(t, raw, info.ResolvedURL)
	}

	invalid := []string{
		"https://discord.com/api/download?platform=linux&format=tar.gz",
		"https://cdn.example.com/0.0.35/discord.tar.gz",
		"https://cdn.example.com/discord-latest.tar.gz",
		"https://cdn.example.com/discord-0.0.35.deb",
	}
	for _, raw := range invalid {
		_, err := ParseVersionInfo(raw)
		require.ErrorIs(t, err, domain.ErrResolution, raw)
		require.ErrorIs(t, err, domain.ErrNoVersionFound, raw)
	}
}

// newRedirectServer serves an endpoint redirecting to target and counts body requests.
func newRedirectServer(t *testing.T, target string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/download", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusFound)
	})
	mux.HandleFunc("/apps/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			http.Error(w, "body must not be downloaded", http.StatusMethodNotAllowed)

			return
		}

		w.Header().Set("Content-Length", "1024")
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return ts
}

// TestResolveLatestVersion follows the redirect and returns the final URL.
func TestResolveLatestVersion(t *testing.T) {
	t.Parallel()

	ts := newRedirectServer(t, "/apps/linux/0.0.35/discord-0.0.35.tar.gz")

	cfg := config.Default()
	cfg.DownloadURL = ts.URL + "/api/download?platform=linux&format=tar.gz"

	info, err := New(cfg, common.NewClient()).ResolveLatestVersion(context.Background())
	require.NoError(t, err)
	require.Equal(t, "0.0.35", info.VersionTag)
	require.Equal(t, ts.URL+"/apps/linux/0.0.35/discord-0.0.35.tar.gz", info.ResolvedURL)
}

// TestResolveLatestVersion_Failures covers a tokenless target, an error status and an unreachable endpoint.
func TestResolveLatestVersion_Failures(t *testing.T) {
	t.Parallel()

	ts := newRedirectServer(t, "/apps/linux/discord.tar.gz")

	cfg := config.Default()
	cfg.DownloadURL = ts.URL + "/api/download"

	_, err := New(cfg, common.NewClient()).ResolveLatestVersion(context.Background())
	require.ErrorIs(t, err, domain.ErrNoVersionFound)

	cfg.DownloadURL = ts.URL + "/missing/discord-0.0.35.tar.gz"
	_, err = New(cfg, common.NewClient()).ResolveLatestVersion(context.Background())
	require.ErrorIs(t, err, domain.ErrResolution)

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	cfg.DownloadURL = closed.URL + "/api/download"
	_, err = New(cfg, common.NewClient(common.WithCallTimeout(time.Second))).ResolveLatestVersion(context.Background())
	require.ErrorIs(t, err, domain.ErrResolution)
}

func touch(t *testing.T, path string, size int, modTime time.Time) {
	t.Helper()

	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
}

// TestFindLocalCandidate picks the newest match and breaks ties by name.
func TestFindLocalCandidate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	touch(t, filepath.Join(dir, "discord-0.0.30.tar.gz"), 10, base)
	touch(t, filepath.Join(dir, "discord-0.0.35.tar.gz"), 35, base.Add(time.Hour))
	touch(t, filepath.Join(dir, "discord-0.0.34.tar.gz"), 34, base.Add(time.Hour))
	touch(t, filepath.Join(dir, "notes.txt"), 1, base.Add(2*time.Hour))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "discord-9.9.9.tar.gz"), 0o700))

	l := New(config.Default(), common.NewClient())

	candidate, err := l.FindLocalCandidate(context.Background(), dir)
	require.NoError(t, err)
	require.NotNil(t, candidate)
	require.Equal(t, filepath.Join(dir, "discord-0.0.35.tar.gz"), candidate.Path)
	require.EqualValues(t, 35, candidate.SizeBytes)
	require.Equal(t, "0.0.35", candidate.VersionTag)
	require.True(t, candidate.ModTime.Equal(base.Add(time.Hour)))
}

// TestFindLocalCandidate_GlobCharactersInDir treats the directory name literally.
func TestFindLocalCandidate_GlobCharactersInDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "Downloads [old] *")
	require.NoError(t, os.Mkdir(dir, 0o700))
	touch(t, filepath.Join(dir, "discord-0.0.35.tar.gz"), 35, time.Now())

	candidate, err := New(config.Default(), common.NewClient()).FindLocalCandidate(context.Background(), dir)
	require.NoError(t, err)
	require.NotNil(t, candidate)
	require.Equal(t, filepath.Join(dir, "discord-0.0.35.tar.gz"), candidate.Path)
}

// TestFindLocalCandidate_None returns nil without an error.
func TestFindLocalCandidate_None(t *testing.T) {
	t.Parallel()

	l := New(config.Default(), common.NewClient())

	candidate, err := l.FindLocalCandidate(context.Background(), t.TempDir())
	require.NoError(t, err)
	require.Nil(t, candidate)

	candidate, err = l.FindLocalCandidate(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	require.Nil(t, candidate)
}

// TestWatch_SignalsOnMatchingArchive ignores unrelated files and reports archives.
func TestWatch_SignalsOnMatchingArchive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals, err := New(config.Default(), common.NewClient()).Watch(ctx, dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "discord-0.0.35.tar.gz"), []byte("x"), 0o600))

	select {
	case _, ok := <-signals:
		require.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("no signal for a new archive")
	}

	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-signals:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}
