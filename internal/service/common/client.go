//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/oshokin/discord-installer/internal/config"
	"github.com/oshokin/discord-installer/internal/version"
)

// Client wraps an HTTP client with the installer's timeout policy.
type Client struct {
	// http is the underlying client used for every request.
	http *http.Client
	// callTimeout bounds metadata requests (HEAD, probes).
	callTimeout time.Duration
	// socketTimeout bounds dialing, TLS handshakes and waiting for response headers.
	socketTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for metadata calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithSocketTimeout sets the per-connection timeouts used by streamed downloads.
func WithSocketTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.socketTimeout = timeout
		}
	}
}

// WithHTTPClient replaces the underlying client, mostly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

var (
	// errURLRequired is returned when a request has no target.
	errURLRequired = errors.New("url must be provided")
	// ErrBadHTTPStatus is returned for responses outside the 2xx range.
	ErrBadHTTPStatus = errors.New("unexpected http status")
)

// NewClient builds a client with the default installer timeouts.
func NewClient(opts ...Option) *Client {
	client := &Client{
		callTimeout:   config.DefaultRequestTimeout,
		socketTimeout: config.DefaultSocketTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.http == nil {
		client.http = &http.Client{
			Transport: newTransport(client.socketTimeout),
		}
	}

	return client
}

// Head issues a redirect-following HEAD request bounded by the call timeout.
// The caller must close the response body.
func (c *Client) Head(ctx context.Context, rawURL string) (*http.Response, error) {
	callCtx, cancel := c.callContext(ctx)

	response, err := c.do(callCtx, http.MethodHead, rawURL)
	if err != nil {
		cancel()

		return nil, err
	}

	response.Body = &cancelOnClose{ReadCloser: response.Body, cancel: cancel}

	return response, nil
}

// Get issues a GET request without an overall deadline; the body is meant to be streamed.
// Non-2xx responses are returned as ErrBadHTTPStatus with the body already closed.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	response, err := c.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		_ = response.Body.Close()

		return nil, fmt.Errorf("%s, %s: %w", rawURL, response.Status, ErrBadHTTPStatus)
	}

	return response, nil
}

func (c *Client) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	if rawURL == "" {
		return nil, errURLRequired
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", "discord-installer/"+version.Short())

	return c.http.Do(req)
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}

// newTransport applies socket-level timeouts only, so long transfers are not cut off.
func newTransport(socketTimeout time.Duration) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // Always a *http.Transport.

	dialer := &net.Dialer{
		Timeout:   socketTimeout,
		KeepAlive: socketTimeout,
	}

	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = socketTimeout
	transport.ResponseHeaderTimeout = socketTimeout

	return transport
}

// cancelOnClose releases the call context once the body is closed.
type cancelOnClose struct {
	io.ReadCloser

	cancel context.CancelFunc
}

// Close closes the body and cancels the call context.
func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()

	return err
}
