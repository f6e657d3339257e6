//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestClient_callContext checks timeout vs cancel-only behavior of callContext.
func TestClient_callContext(t *testing.T) {
	t.Parallel()

	c := &Client{
		callTimeout: 0,
	}

	ctx, cancel := c.callContext(context.Background())
	cancel()

	require.NotNil(t, ctx)

	c.callTimeout = 10 * time.Millisecond

	ctx, cancel = c.callContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(10*time.Millisecond), deadline, 30*time.Millisecond)
}

// TestClient_HeadFollowsRedirects verifies the final URL is exposed and no body is transferred.
func TestClient_HeadFollowsRedirects(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/latest", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/files/discord-0.0.35.tar.gz", http.StatusFound)
	})
	methods := make(chan string, 1)
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		methods <- r.Method

		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()

	response, err := NewClient(WithCallTimeout(time.Second)).Head(context.Background(), ts.URL+"/latest")
	require.NoError(t, err)

	defer func() {
		_ = response.Body.Close()
	}()

	require.Equal(t, "/files/discord-0.0.35.tar.gz", response.Request.URL.Path)
	require.Equal(t, http.MethodHead, <-methods)
}

// TestClient_GetRejectsBadStatus asserts non-2xx responses become ErrBadHTTPStatus.
func TestClient_GetRejectsBadStatus(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer ts.Close()

	c := NewClient()

	_, err := c.Get(context.Background(), ts.URL)
	require.ErrorIs(t, err, ErrBadHTTPStatus)

	_, err = c.Get(context.Background(), "")
	require.ErrorIs(t, err, errURLRequired)
}

// TestClient_GetStreamsBody ensures the body is handed back unread.
func TestClient_GetStreamsBody(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("payload"))
	}))
	defer ts.Close()

	response, err := NewClient(WithSocketTimeout(time.Second)).Get(context.Background(), ts.URL)
	require.NoError(t, err)

	defer func() {
		_ = response.Body.Close()
	}()

	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	require.Equal(t, "payload", string(body))
}
