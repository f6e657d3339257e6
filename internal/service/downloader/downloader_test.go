package downloader

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/discord-installer/internal/domain/install"
	"github.com/oshokin/discord-installer/internal/service/common"
)

// collect drains the transfer and returns every event in order.
func collect(t *testing.T, transfer *Transfer) []domain.Event {
	t.Helper()

	var events []domain.Event

	timeout := time.After(10 * time.Second)

	for {
		select {
		case event, ok := <-transfer.Events():
			if !ok {
				return events
			}

			events = append(events, event)
		case <-timeout:
			t.Fatal("transfer did not finish")
		}
	}
}

func requireSingleCompletion(t *testing.T, events []domain.Event) domain.Event {
	t.Helper()

	var completions []domain.Event

	for _, event := range events {
		if event.IsTerminal() {
			completions = append(completions, event)
		}
	}

	require.Len(t, completions, 1)
	require.True(t, events[len(events)-1].IsTerminal())

	return completions[0]
}

func requireNoPartFiles(t *testing.T, dir string) {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join(dir, "*"+partSuffix))
	require.NoError(t, err)
	require.Empty(t, matches)
}

// TestFileName prefers the URL base name.
func TestFileName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "discord-0.0.35.tar.gz", FileName("https://cdn.example.com/apps/discord-0.0.35.tar.gz?x=1", "9"))
	require.Equal(t, "discord-0.0.35.tar.gz", FileName("https://discord.com/api/download", "0.0.35"))
	require.Equal(t, "discord-1.tar.gz", FileName("://bad", "1"))
}

// TestDownload_KnownLength writes the full body and reports monotonic progress.
func TestDownload_KnownLength(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("d"), 5*ChunkSize+17)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
	}))
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	transfer := New(common.NewClient()).Start(context.Background(), ts.URL+"/apps/discord-0.0.35.tar.gz", "0.0.35", dir)

	events := collect(t, transfer)
	completion := requireSingleCompletion(t, events)
	require.True(t, completion.Success(), completion.Message)
	require.NotNil(t, completion.Archive)
	require.Equal(t, filepath.Join(dir, "discord-0.0.35.tar.gz"), completion.Archive.Path)
	require.Equal(t, completion.Archive.Path, transfer.Destination())
	require.EqualValues(t, len(payload), completion.Archive.SizeBytes)
	require.Equal(t, "0.0.35", completion.Archive.VersionTag)

	last := 0

	for _, event := range events[:len(events)-1] {
		require.Equal(t, domain.EventProgress, event.Kind)
		require.GreaterOrEqual(t, event.Percent, progressStart)
		require.LessOrEqual(t, event.Percent, progressEnd)
		require.GreaterOrEqual(t, event.Percent, last)
		last = event.Percent
	}

	require.Equal(t, progressEnd, last)

	written, err := os.ReadFile(completion.Archive.Path)
	require.NoError(t, err)
	require.Equal(t, payload, written)
	requireNoPartFiles(t, dir)
}

// TestDownload_UnknownLength emits the coarse milestones.
func TestDownload_UnknownLength(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			return
		}

		for i := 0; i < 3; i++ {
			_, _ = w.Write(bytes.Repeat([]byte("x"), ChunkSize))
			flusher.Flush()
		}
	}))
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	transfer := New(common.NewClient()).Start(context.Background(), ts.URL+"/download", "0.0.36", dir)

	events := collect(t, transfer)
	completion := requireSingleCompletion(t, events)
	require.True(t, completion.Success(), completion.Message)
	require.Equal(t, filepath.Join(dir, "discord-0.0.36.tar.gz"), completion.Archive.Path)

	var percents []int
	for _, event := range events[:len(events)-1] {
		percents = append(percents, event.Percent)
	}

	require.Equal(t, []int{progressStart, progressMid, progressEnd}, percents)
}

// TestDownload_Cancel removes the partial file and reports a user cancellation.
func TestDownload_Cancel(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(4*ChunkSize))
		_, _ = w.Write(bytes.Repeat([]byte("c"), ChunkSize))
		w.(http.Flusher).Flush() //nolint:forcetypeassert // httptest writers flush.

		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(ts.Close)
	t.Cleanup(func() { close(release) })

	dir := t.TempDir()
	transfer := New(common.NewClient()).Start(context.Background(), ts.URL+"/discord-0.0.35.tar.gz", "0.0.35", dir)

	var events []domain.Event

	for event := range transfer.Events() {
		events = append(events, event)
		if event.Kind == domain.EventProgress && event.Percent > progressStart {
			transfer.Cancel()
			transfer.Cancel()
		}
	}

	completion := requireSingleCompletion(t, events)
	require.Equal(t, domain.OutcomeCancelledByUser, completion.Outcome.Kind)
	require.NoFileExists(t, filepath.Join(dir, "discord-0.0.35.tar.gz"))
	requireNoPartFiles(t, dir)

	transfer.Wait()
}

// TestDownload_Failures maps HTTP errors, empty bodies and truncation onto a transfer failure.
func TestDownload_Failures(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/missing/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	mux.HandleFunc("/empty/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/short/", func(w http.ResponseWriter, _ *http.Request) {
		hijacker, ok := w.(http.Hijacker)
		if !ok {
			return
		}

		conn, buf, err := hijacker.Hijack()
		if err != nil {
			return
		}

		_, _ = buf.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 1000\r\n\r\nonly a few bytes")
		_ = buf.Flush()
		_ = conn.Close()
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	for _, route := range []string{"/missing/", "/empty/", "/short/"} {
		dir := t.TempDir()
		transfer := New(common.NewClient()).Start(context.Background(), ts.URL+route+"discord-0.0.35.tar.gz", "0.0.35", dir)

		completion := requireSingleCompletion(t, collect(t, transfer))
		require.Equal(t, domain.OutcomeFailed, completion.Outcome.Kind, route)
		require.ErrorIs(t, completion.Outcome.Error(), domain.ErrTransfer, route)
		require.NoFileExists(t, filepath.Join(dir, "discord-0.0.35.tar.gz"), route)
		requireNoPartFiles(t, dir)
	}
}
