package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"catalogd/pkg/apperr"
	"catalogd/pkg/source"
)

const (
	userAgent      = "catalogd/1.0"
	defaultTimeout = 30 * time.Second
)

// Client retrieves artifact manifests and raw content from a resolved source.
// Failures are classified and returned; nothing here retries.
type Client struct {
	http *http.Client
}

// New builds a Client with the default request timeout.
func New() *Client {
	return NewWithHTTPClient(&http.Client{Timeout: defaultTimeout})
}

// NewWithHTTPClient builds a Client around a caller-supplied HTTP client,
// mainly so tests can shorten timeouts.
func NewWithHTTPClient(hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{http: hc}
}

// JSON fetches the source and decodes its body into dest. HTTP sources are
// GET with the fixed client identifier header; file sources are read in full.
func (c *Client) JSON(ctx context.Context, src source.Source, dest any) error {
	if src.IsHTTP() {
		body, err := c.get(ctx, src.URL())
		if err != nil {
			return err
		}
		defer body.Close()

		if err := json.NewDecoder(body).Decode(dest); err != nil {
			return apperr.BadRequest("parse manifest JSON from %s: %v", src.URL(), err)
		}
		return nil
	}

	data, err := os.ReadFile(src.Path())
	if err != nil {
		return apperr.Internal("read manifest file", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return apperr.BadRequest("parse manifest JSON from %s: %v", src.Path(), err)
	}
	return nil
}

// Content opens a streamed reader over the raw bytes at the source. The
// caller owns the returned reader and must close it.
func (c *Client) Content(ctx context.Context, src source.Source) (io.ReadCloser, error) {
	if src.IsHTTP() {
		return c.get(ctx, src.URL())
	}

	f, err := os.Open(src.Path())
	if err != nil {
		return nil, apperr.Internal("open content file", err)
	}
	return f, nil
}

func (c *Client) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.InvalidSource("invalid source: %q", url)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Internal(fmt.Sprintf("fetch %s", url), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, apperr.NotFound("fetch %s: status %d", url, resp.StatusCode)
		}
		return nil, apperr.Internal(fmt.Sprintf("fetch %s: status %d", url, resp.StatusCode), nil)
	}

	return resp.Body, nil
}
