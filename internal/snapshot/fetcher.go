// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package snapshot

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultTimeout      = 10 * time.Minute
	DefaultMaxRedirects = 10
)

// Fetcher downloads snapshot archives to local disk.
type Fetcher struct {
	client       *http.Client
	timeout      time.Duration
	maxRedirects int
}

type FetcherOption func(*Fetcher)

// WithTimeout bounds the whole fetch, redirects and body included.
// A zero or negative value disables the bound.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) { f.timeout = d }
}

// WithMaxRedirects caps how many redirect hops are followed.
func WithMaxRedirects(n int) FetcherOption {
	return func(f *Fetcher) {
		if n < 0 {
			n = 0
		}
		f.maxRedirects = n
	}
}

// WithHTTPClient uses c as the base client. Its redirect policy is replaced.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// NewFetcher creates a fetcher that follows redirects itself rather than
// leaving them to net/http, so the hop count is explicit.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		timeout:      DefaultTimeout,
		maxRedirects: DefaultMaxRedirects,
	}
	for _, opt := range opts {
		opt(f)
	}

	var c http.Client
	if f.client != nil {
		c = *f.client
	}
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	f.client = &c
	return f
}

// Fetch streams the resource at url into destPath, creating or truncating it.
// On failure a partially written destPath is removed. All failures are
// reported as *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url, destPath string) error {
	start := time.Now()
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	resp, finalURL, err := f.follow(ctx, url)
	if err != nil {
		recordFetchError(fetchReason(err))
		recordFetch(start, 0, "error")
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	n, err := writeBody(ctx, resp.Body, finalURL, destPath)
	if err != nil {
		recordFetchError(fetchReason(err))
		recordFetch(start, n, "error")
		return err
	}

	recordFetch(start, n, "success")
	slog.Info("Downloaded snapshot archive",
		slog.String("url", finalURL),
		slog.String("path", destPath),
		slog.Int64("bytes", n),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// follow issues GETs until a non-redirect response arrives. The returned
// response is always 200 OK and its body must be closed by the caller.
func (f *Fetcher) follow(ctx context.Context, url string) (*http.Response, string, error) {
	current := url
	for hop := 0; ; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, current, &FetchError{URL: current, Reason: ReasonRequest, Err: err}
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, current, classifyTransportError(ctx, current, err)
		}

		if isRedirect(resp.StatusCode) {
			if loc := resp.Header.Get("Location"); loc != "" {
				discard(resp)
				if hop >= f.maxRedirects {
					return nil, current, &FetchError{URL: url, Reason: ReasonTooManyRedirects}
				}
				next, err := req.URL.Parse(loc)
				if err != nil {
					return nil, current, &FetchError{URL: current, Reason: ReasonRequest, Err: err}
				}
				slog.Debug("Following snapshot redirect",
					slog.String("from", current),
					slog.String("to", next.String()),
					slog.Int("hop", hop+1))
				current = next.String()
				continue
			}
		}

		if resp.StatusCode != http.StatusOK {
			discard(resp)
			return nil, current, &FetchError{
				URL:        current,
				StatusCode: resp.StatusCode,
				Status:     resp.Status,
				Reason:     ReasonHTTPStatus,
			}
		}

		return resp, current, nil
	}
}

func writeBody(ctx context.Context, body io.Reader, url, destPath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, &FetchError{URL: url, Reason: ReasonWrite, Err: err}
	}

	out, err := os.Create(destPath)
	if err != nil {
		return 0, &FetchError{URL: url, Reason: ReasonWrite, Err: err}
	}

	src := &trackingReader{r: body}
	n, err := io.Copy(out, src)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		return n, nil
	}

	removeFile(destPath, "partial snapshot archive")
	if src.err != nil {
		return n, classifyTransportError(ctx, url, src.err)
	}
	return n, &FetchError{URL: url, Reason: ReasonWrite, Err: err}
}

func classifyTransportError(ctx context.Context, url string, err error) *FetchError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &FetchError{URL: url, Reason: ReasonTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &FetchError{URL: url, Reason: ReasonTimeout, Err: err}
	}
	return &FetchError{URL: url, Reason: ReasonRequest, Err: err}
}

func fetchReason(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ReasonRequest
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// discard drains a small amount of the body so the connection can be reused.
func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()
}

// removeFile deletes path, logging rather than returning a failure so the
// caller's original error is what surfaces.
func removeFile(path, what string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to remove "+what,
			slog.String("path", path),
			slog.Any("error", err))
	}
}

// trackingReader remembers the last non-EOF read error so a copy failure can
// be attributed to the network rather than the local disk.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}
